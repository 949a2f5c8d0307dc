package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/iudanet/apikit/client"
	"github.com/iudanet/apikit/storage/boltdb"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "Show version information")
	domain := flag.String("domain", "localhost", "API domain")
	port := flag.Int("port", 8080, "API port")
	secure := flag.Bool("secure", false, "Use https")
	dbPath := flag.String("db", "apikit-demo.db", "Path to local database")

	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	ctx := context.Background()

	// Открываем BoltDB storage
	store, err := boltdb.New(ctx, *dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		os.Exit(1)
	}

	c, err := client.New(client.Config{
		API: client.APIConfig{
			Domain: *domain,
			Port:   *port,
			Secure: *secure,
		},
		Store: store,
		Auth: client.AuthConfig{
			FetchProfile: client.Static(client.Descriptor{
				URL:             "users/me",
				WithAccessToken: true,
			}),
			GrantAccessToken: client.Static(client.Descriptor{
				URL:              "auth/token",
				Method:           "POST",
				WithRefreshToken: true,
			}),
			Login:         client.Static(client.Descriptor{URL: "auth/login", Method: "POST"}),
			Logout:        client.Static(client.Descriptor{URL: "auth/logout", Method: "POST", WithAccessToken: true}),
			RefreshHeader: "X-Refresh-Token",
		},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create client: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := c.Close(); err != nil {
			slog.Error("failed to close client", "error", err)
		}
	}()

	c.Load(ctx)

	command := args[0]
	switch command {
	case "login":
		err = runLogin(ctx, c)
	case "logout":
		err = c.Logout(ctx)
	case "status":
		err = runStatus(c)
	case "get":
		if len(args) < 2 {
			err = fmt.Errorf("usage: apikit-demo get <path>")
		} else {
			err = runGet(ctx, c, args[1])
		}
	default:
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runLogin(ctx context.Context, c *client.Client) error {
	email, err := readInput("Email: ")
	if err != nil {
		return err
	}

	password, err := readPassword("Password: ")
	if err != nil {
		return err
	}

	user, err := c.Login(ctx, map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return err
	}

	fmt.Println("Login successful")
	printJSON(user)
	return nil
}

func runStatus(c *client.Client) error {
	state := c.State()

	fmt.Printf("Authenticated: %v\n", state.HasAuth)
	if state.User != nil {
		printJSON(state.User)
	}
	return nil
}

func runGet(ctx context.Context, c *client.Client, path string) error {
	body, err := c.Get(ctx, path, nil)
	if err != nil {
		return err
	}

	printJSON(body)
	return nil
}

func readInput(prompt string) (string, error) {
	fmt.Print(prompt)
	reader := bufio.NewReader(os.Stdin)
	input, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(input), nil
}

func readPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	pwBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", err
	}
	return string(pwBytes), nil
}

func printJSON(raw json.RawMessage) {
	var pretty map[string]any
	if err := json.Unmarshal(raw, &pretty); err != nil {
		fmt.Println(string(raw))
		return
	}

	formatted, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		fmt.Println(string(raw))
		return
	}
	fmt.Println(string(formatted))
}

func printUsage() {
	fmt.Println("Usage: apikit-demo [flags] <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  login    Authenticate and store the session locally")
	fmt.Println("  logout   Drop the session locally and on the server")
	fmt.Println("  status   Show the current session state")
	fmt.Println("  get      Perform an authenticated GET request")
	fmt.Println()
	fmt.Println("Flags:")
	flag.PrintDefaults()
}

func printVersion() {
	fmt.Printf("apikit-demo %s\n", Version)
	fmt.Printf("  build date: %s\n", BuildDate)
	fmt.Printf("  git commit: %s\n", GitCommit)
}
