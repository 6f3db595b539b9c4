package ratelimiter

import "time"

func nowMs() int64 {
	return time.Now().UnixMilli()
}

func nowSec() int64 {
	return time.Now().Unix()
}
