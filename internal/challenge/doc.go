// Package challenge asks the user to prove their identity when typing analysis
// flags the session.
//
// Two strategies are provided: TOTP, for authenticator apps, and SMS, which
// sends a one-time code through a Sender. A typing profile lists which
// strategies its administrator accepts by their server representation
// ("GoogleAuth", "TextMessage").
//
// Guard listens to the store. It keeps the last 20 and last 10 analysis
// probabilities and, once 20 are buffered, moves an unlocked client into
// CHALLENGE when the newest probability is below 0.02, the mean of the last 20
// is below 0.15, or at least 5 of the last 10 are at or below 0.1. Three wrong
// answers lock the machine; a right answer unlocks it and clears the buffers.
package challenge
