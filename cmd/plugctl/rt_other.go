//go:build !linux

package main

func lockTiming() {}
