package domain

import "errors"

var (
	ErrRoomNotFound     = errors.New("room not found")
	ErrFileNotFound     = errors.New("file not found")
	ErrClientNotFound   = errors.New("client not found")
	ErrPeerNotFound     = errors.New("peer not found")
	ErrNotConnected     = errors.New("relay not connected")
	ErrAlreadyBound     = errors.New("binding already attached")
	ErrConnectionFailed = errors.New("peer connection failed")
	ErrMediaUnavailable = errors.New("media device unavailable")
)
