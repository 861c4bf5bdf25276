package network

import "errors"

// ErrAuthFailure ...
var ErrAuthFailure = errors.New("login did not return a usable token")

// ErrSessionCreation ...
var ErrSessionCreation = errors.New("session creation did not return an upload location")

// ErrFileNotFound ...
var ErrFileNotFound = errors.New("no file found for the provided reference")
