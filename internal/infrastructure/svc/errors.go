package svc

import "errors"

// ErrNoStreamsEnabled 错误：没有启用任何行情流
var ErrNoStreamsEnabled = errors.New("no market or user data streams enabled")

// ErrStorageInitFailed 错误：存储初始化失败
var ErrStorageInitFailed = errors.New("storage initialization failed")
