// Command arca-codegen is the vendor-side authoring tool. Activation codes
// and break-glass responses are signed with keys that are deliberately not
// machine-bound, so this tool runs anywhere: support staff generate codes in
// batches and answer break-glass challenges offline, using the customer's
// hostname and username to reproduce their machine seed.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"arcavault/internal/activation"
	"arcavault/internal/admin"
	"arcavault/internal/security"
)

func main() {
	bundleName := flag.String("bundle", "pro", "bundle to generate codes for (basic, pro, studio)")
	count := flag.Int("count", 1, "number of codes to generate")
	challenge := flag.String("challenge", "", "break-glass challenge to answer")
	hostname := flag.String("hostname", "", "customer hostname (break-glass only)")
	username := flag.String("username", "", "customer username (break-glass only)")
	flag.Parse()

	keys, err := security.NewAuthoringKeySet()
	if err != nil {
		slog.Error("Failed to derive authoring keys", "error", err)
		os.Exit(1)
	}

	if *challenge != "" {
		if err := answerChallenge(keys, *challenge, *hostname, *username); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		return
	}

	if err := generateCodes(keys, *bundleName, *count); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func generateCodes(keys *security.KeySet, bundleName string, count int) error {
	bundle, err := activation.ParseBundle(bundleName)
	if err != nil {
		return err
	}
	engine, err := activation.NewCodeEngine(keys.Activation)
	if err != nil {
		return err
	}
	for i := 0; i < count; i++ {
		code, err := engine.Generate(bundle)
		if err != nil {
			return err
		}
		fmt.Println(code)
	}
	return nil
}

func answerChallenge(keys *security.KeySet, challenge, hostname, username string) error {
	if hostname == "" || username == "" {
		return fmt.Errorf("break-glass responses need -hostname and -username to reproduce the customer's machine seed")
	}
	fp := security.NewFingerprinterFor(hostname, username)
	seed, err := fp.MachineSeed()
	if err != nil {
		return err
	}
	fmt.Println(admin.ExpectedResponse(keys.BreakGlass, seed, challenge))
	return nil
}
