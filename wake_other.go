//go:build !unix

package main

import (
	"context"

	"example.com/serverdate/core/sync"
)

func notifyWake(context.Context, *sync.Synchronizer) {}
