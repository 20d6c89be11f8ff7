// onboardd serves and drives onboarding sessions.
//
// Usage:
//
//	onboardd serve -c onboarding.yaml       # gRPC service + /metrics
//	onboardd chat                           # local session in the terminal
//	onboardd chat --remote :50051 --token T # drive a served session
//	onboardd replay script.yaml             # run a scripted session
//	onboardd version
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
