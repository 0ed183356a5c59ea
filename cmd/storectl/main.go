// Command storectl is the operator CLI for the storefront ledger service.
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/term"
)

const (
	defaultAddr     = "http://localhost:7095"
	defaultTokenEnv = "YBCSTORE_ADMIN_TOKEN"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "user":
		err = runUser(os.Args[2:])
	case "topup":
		err = runTopUp(os.Args[2:])
	case "tiers":
		err = runTiers(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: storectl <command> [flags]

Commands:
  user    -id <uuid>                 show an account and its audit trail
  topup   -id <uuid> -amount <rm>    credit purchased RM to an account
  tiers                              show the active tier table`)
}

func runUser(args []string) error {
	fs := flag.NewFlagSet("user", flag.ExitOnError)
	addr := fs.String("addr", defaultAddr, "service base URL")
	tokenEnv := fs.String("token-env", defaultTokenEnv, "environment variable holding the admin token")
	id := fs.String("id", "", "user id")
	fs.Parse(args)
	if *id == "" {
		return errors.New("-id is required")
	}
	token, err := resolveToken(*tokenEnv)
	if err != nil {
		return err
	}
	if err := request(http.MethodGet, *addr+"/api/v1/users/"+*id, token, nil); err != nil {
		return err
	}
	return request(http.MethodGet, *addr+"/admin/users/"+*id+"/events", token, nil)
}

func runTopUp(args []string) error {
	fs := flag.NewFlagSet("topup", flag.ExitOnError)
	addr := fs.String("addr", defaultAddr, "service base URL")
	tokenEnv := fs.String("token-env", defaultTokenEnv, "environment variable holding the admin token")
	id := fs.String("id", "", "user id")
	amount := fs.Float64("amount", 0, "credits to add")
	fs.Parse(args)
	if *id == "" {
		return errors.New("-id is required")
	}
	if *amount <= 0 {
		return errors.New("-amount must be positive")
	}
	token, err := resolveToken(*tokenEnv)
	if err != nil {
		return err
	}
	payload := map[string]any{"user_id": *id, "amount": *amount}
	return request(http.MethodPost, *addr+"/admin/credits", token, payload)
}

func runTiers(args []string) error {
	fs := flag.NewFlagSet("tiers", flag.ExitOnError)
	addr := fs.String("addr", defaultAddr, "service base URL")
	tokenEnv := fs.String("token-env", defaultTokenEnv, "environment variable holding the admin token")
	fs.Parse(args)
	token, err := resolveToken(*tokenEnv)
	if err != nil {
		return err
	}
	return request(http.MethodGet, *addr+"/admin/tiers", token, nil)
}

// resolveToken checks the environment first and prompts on the terminal as a
// fallback so the token stays out of shell history.
func resolveToken(envVar string) (string, error) {
	if value, ok := os.LookupEnv(envVar); ok {
		if strings.TrimSpace(value) == "" {
			return "", fmt.Errorf("%s is set but empty", envVar)
		}
		return value, nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", fmt.Errorf("admin token required; set %s or run interactively", envVar)
	}
	fmt.Fprint(os.Stderr, "Enter admin token: ")
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read token: %w", err)
	}
	token := strings.TrimSpace(string(raw))
	if token == "" {
		return "", errors.New("admin token cannot be empty")
	}
	return token, nil
}

func request(method, url, token string, payload any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(data)))
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, "", "  "); err != nil {
		fmt.Println(strings.TrimSpace(string(data)))
		return nil
	}
	fmt.Println(pretty.String())
	return nil
}
