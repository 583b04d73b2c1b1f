//go:build !nogomlx

package main

// Include GoMLX backend and the "fnn" approximator.

import (
	_ "github.com/gomlx/gomlx/backends/simplego"
	_ "github.com/janpfeifer/qlearner/internal/ai/gomlx"
)
