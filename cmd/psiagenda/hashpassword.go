package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"psiagenda/internal/config"
	"psiagenda/internal/web"
)

// runHashPassword prompts for credentials and prints (or writes) the
// basic_auth block for the config file.
func runHashPassword(args []string) error {
	fs := flag.NewFlagSet("hash-password", flag.ExitOnError)
	configPath := fs.String("config", "./psiagenda.yaml", "Config file to update when -write is set")
	write := fs.Bool("write", false, "Store the credentials in the config file instead of printing them")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: psiagenda hash-password [OPTIONS]\n\n")
		fmt.Fprintf(os.Stderr, "Creates an Argon2id password hash for HTTP basic auth.\n\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	in := bufio.NewReader(os.Stdin)

	fmt.Print("Enter username: ")
	username, err := readLine(in)
	if err != nil {
		return fmt.Errorf("read username: %w", err)
	}
	if username == "" {
		return errors.New("username cannot be empty")
	}

	password, err := readSecret(in, "Enter password:   ")
	if err != nil {
		return err
	}
	confirm, err := readSecret(in, "Confirm password: ")
	if err != nil {
		return err
	}
	if password == "" {
		return errors.New("password cannot be empty")
	}
	if password != confirm {
		return errors.New("passwords do not match")
	}

	hash, err := web.HashPassword(password)
	if err != nil {
		return err
	}

	if !*write {
		fmt.Printf("\nbasic_auth:\n  username: %s\n  password_hash: %q\n", username, hash)
		return nil
	}

	conf, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	conf.BasicAuth = &config.BasicAuthConfig{Username: username, PasswordHash: hash}
	if err := conf.Save(*configPath); err != nil {
		return err
	}
	fmt.Printf("Basic auth for %q written to %s\n", username, *configPath)
	return nil
}

// readSecret reads a password without echo when stdin is a terminal, and
// as a plain line otherwise (e.g. piped input).
func readSecret(in *bufio.Reader, prompt string) (string, error) {
	fmt.Print(prompt)
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return readLine(in)
	}
	b, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(b), nil
}

func readLine(in *bufio.Reader) (string, error) {
	line, err := in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
