// Package push receives server-initiated changes.
//
// The server keeps a message queue per typing profile and names it in the
// profile's endpoint field. While the client is authenticated, a Listener
// long-polls that endpoint, folds each message into the current status and
// acknowledges it with DELETE <endpoint>/{id}. Two change types exist:
// TypingProfile replaces the profile and lock state, and User updates contact
// details or, with an inner LOGOUT change, ends the session.
package push
