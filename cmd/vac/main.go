// Command vac sets up Multyvac credentials on this machine. It signs
// in with the dashboard account, picks the first active api key and
// writes it to ~/.multyvac for every client on the host to use.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/multyvac/vac/vac"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	switch os.Args[1] {
	case "setup":
		setup()
	case "version":
		fmt.Printf("vac version %s\n", vac.Version)
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: vac <setup|version>")
}

func setup() {
	fmt.Println("Welcome to Multyvac.")
	fmt.Println()
	fmt.Println("If you input your Multyvac username and password, an api key will")
	fmt.Println("be automatically fetched for this machine.")
	fmt.Println()

	reader := bufio.NewReader(os.Stdin)
	fmt.Print("Username: ")
	username, err := reader.ReadString('\n')
	if err != nil {
		fmt.Fprintln(os.Stderr, "Unknown error:", err)
		os.Exit(1)
	}
	username = strings.TrimSpace(username)

	fmt.Print("Password: ")
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Unknown error:", err)
		os.Exit(1)
	}

	c, err := vac.NewClient()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Unknown error:", err)
		os.Exit(1)
	}

	ctx := context.Background()
	keys, err := c.Keys(ctx, &vac.WebCredentials{Username: username, Password: string(password)})
	if err != nil {
		var re *vac.RequestError
		if errors.As(err, &re) {
			fmt.Fprintln(os.Stderr, "Bad username and password. Please run setup again.")
		} else {
			fmt.Fprintln(os.Stderr, "Unknown error:", err)
		}
		os.Exit(1)
	}

	for _, key := range keys {
		if !key.Active {
			continue
		}
		fmt.Printf("Your machine will use api key %s\n", key.ID)
		c.Config().SetKey(key.ID, key.SecretKey, "")
		if err := c.Config().Save(); err != nil {
			fmt.Fprintln(os.Stderr, "Unknown error:", err)
			os.Exit(1)
		}
		fmt.Println("Success")
		// The install report is best effort.
		_ = c.ReportInstall(ctx, vac.DefaultInstallReport())
		return
	}

	fmt.Fprintln(os.Stderr, "Your account has no active api keys.")
	os.Exit(1)
}
