// Package mocks holds generated test doubles.
package mocks

//go:generate mockgen -destination=sender_mock.go -package=mocks serialnotify/internal/delivery Sender
