// Command libctl is a small client for the library services.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

type book struct {
	ID            int64  `json:"id"`
	Title         string `json:"title"`
	Author        string `json:"author"`
	PublishedYear int    `json:"published_year"`
	IsAvailable   bool   `json:"is_available"`
}

type user struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type record struct {
	ID         int64   `json:"id"`
	UserID     int64   `json:"user_id"`
	BookID     int64   `json:"book_id"`
	BorrowedAt string  `json:"borrowed_at"`
	ReturnedAt *string `json:"returned_at"`
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// readPassword reads a password without echo
func readPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	raw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func newRootCmd() *cobra.Command {
	var usersURL, booksURL, borrowURL string
	client := func() *apiClient {
		return newAPIClient(usersURL, booksURL, borrowURL, loadToken())
	}

	root := &cobra.Command{
		Use:           "libctl",
		Short:         "Manage books, users and loans",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&usersURL, "users-url", envOr("LIBCTL_USERS_URL", "http://localhost:8001"), "users service base URL")
	root.PersistentFlags().StringVar(&booksURL, "books-url", envOr("LIBCTL_BOOKS_URL", "http://localhost:8002"), "books service base URL")
	root.PersistentFlags().StringVar(&borrowURL, "borrow-url", envOr("LIBCTL_BORROW_URL", "http://localhost:8003"), "borrow service base URL")

	root.AddCommand(
		newSignupCmd(client),
		newLoginCmd(client),
		newLogoutCmd(),
		newWhoamiCmd(client),
		newBooksCmd(client),
		newBorrowCmd(client),
		newReturnCmd(client),
		newHistoryCmd(client),
	)
	return root
}

func newSignupCmd(client func() *apiClient) *cobra.Command {
	var name, email string
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			password, err := readPassword("Password: ")
			if err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}
			var u user
			c := client()
			body := map[string]string{"name": name, "email": email, "password": password}
			if err := c.doJSON(cmd.Context(), http.MethodPost, c.usersURL+"/auth/signup", body, &u, nil); err != nil {
				return err
			}
			fmt.Printf("Created user %d (%s)\n", u.ID, u.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("email")
	return cmd
}

func newLoginCmd(client func() *apiClient) *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the access token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			password, err := readPassword("Password: ")
			if err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}
			token, err := client().login(cmd.Context(), email, password)
			if err != nil {
				return err
			}
			if err := saveToken(token); err != nil {
				return fmt.Errorf("failed to save token: %w", err)
			}
			fmt.Println("Logged in")
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.MarkFlagRequired("email")
	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored token",
		RunE: func(*cobra.Command, []string) error {
			if err := os.Remove(tokenFile()); err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			fmt.Println("Logged out")
			return nil
		},
	}
}

func newWhoamiCmd(client func() *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged in user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var u user
			c := client()
			if err := c.doJSON(cmd.Context(), http.MethodGet, c.usersURL+"/auth/me", nil, &u, nil); err != nil {
				return err
			}
			fmt.Printf("%d\t%s\t%s\n", u.ID, u.Name, u.Email)
			return nil
		},
	}
}

func newBooksCmd(client func() *apiClient) *cobra.Command {
	cmd := &cobra.Command{Use: "books", Short: "Manage books"}

	var page, pageSize int
	list := &cobra.Command{
		Use:   "list",
		Short: "List books",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var result struct {
				Page    int    `json:"page"`
				Total   int    `json:"total"`
				Results []book `json:"results"`
			}
			c := client()
			q := url.Values{"page": {strconv.Itoa(page)}, "page_size": {strconv.Itoa(pageSize)}}
			if err := c.doJSON(cmd.Context(), http.MethodGet, c.booksURL+"/books?"+q.Encode(), nil, &result, nil); err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTITLE\tAUTHOR\tYEAR\tAVAILABLE")
			for _, b := range result.Results {
				fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%t\n", b.ID, b.Title, b.Author, b.PublishedYear, b.IsAvailable)
			}
			w.Flush()
			fmt.Printf("page %d, %d books total\n", result.Page, result.Total)
			return nil
		},
	}
	list.Flags().IntVar(&page, "page", 1, "page number")
	list.Flags().IntVar(&pageSize, "page-size", 20, "books per page")

	var title, author string
	var year int
	add := &cobra.Command{
		Use:   "add",
		Short: "Add a book",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var b book
			c := client()
			body := map[string]any{"title": title, "author": author, "published_year": year}
			if err := c.doJSON(cmd.Context(), http.MethodPost, c.booksURL+"/books", body, &b, nil); err != nil {
				return err
			}
			fmt.Printf("Added book %d\n", b.ID)
			return nil
		},
	}
	add.Flags().StringVar(&title, "title", "", "title")
	add.Flags().StringVar(&author, "author", "", "author")
	add.Flags().IntVar(&year, "year", 0, "year of publication")
	add.MarkFlagRequired("title")
	add.MarkFlagRequired("author")
	add.MarkFlagRequired("year")

	remove := &cobra.Command{
		Use:   "delete BOOK_ID",
		Short: "Delete a book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			c := client()
			if err := c.doJSON(cmd.Context(), http.MethodDelete, fmt.Sprintf("%s/books/%d", c.booksURL, id), nil, nil, nil); err != nil {
				return err
			}
			fmt.Printf("Deleted book %d\n", id)
			return nil
		},
	}

	cmd.AddCommand(list, add, remove)
	return cmd
}

func newBorrowCmd(client func() *apiClient) *cobra.Command {
	var userID int64
	var key string
	cmd := &cobra.Command{
		Use:   "borrow BOOK_ID",
		Short: "Borrow a book for a user",
		Long:  "Borrow a book. Re-running with the same --key is safe: the first loan is returned.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bookID, err := parseID(args[0])
			if err != nil {
				return err
			}
			if key == "" {
				key = uuid.NewString()
			}
			var r record
			c := client()
			err = c.doJSON(cmd.Context(), http.MethodPost, fmt.Sprintf("%s/borrow/%d/borrow", c.borrowURL, bookID),
				map[string]int64{"user_id": userID}, &r, map[string]string{"Idempotency-Key": key})
			if err != nil {
				return fmt.Errorf("%w (idempotency key %s)", err, key)
			}
			fmt.Printf("Loan %d: book %d to user %d at %s\n", r.ID, r.BookID, r.UserID, r.BorrowedAt)
			return nil
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "borrowing user id")
	cmd.Flags().StringVar(&key, "key", "", "idempotency key (generated when empty)")
	cmd.MarkFlagRequired("user")
	return cmd
}

func newReturnCmd(client func() *apiClient) *cobra.Command {
	var userID int64
	cmd := &cobra.Command{
		Use:   "return BOOK_ID",
		Short: "Return a borrowed book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bookID, err := parseID(args[0])
			if err != nil {
				return err
			}
			var r record
			c := client()
			if err := c.doJSON(cmd.Context(), http.MethodPost, fmt.Sprintf("%s/borrow/%d/return", c.borrowURL, bookID),
				map[string]int64{"user_id": userID}, &r, nil); err != nil {
				return err
			}
			fmt.Printf("Loan %d closed\n", r.ID)
			return nil
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "returning user id")
	cmd.MarkFlagRequired("user")
	return cmd
}

func newHistoryCmd(client func() *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "history USER_ID",
		Short: "Show a user's loans, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseID(args[0])
			if err != nil {
				return err
			}
			var records []record
			c := client()
			if err := c.doJSON(cmd.Context(), http.MethodGet, fmt.Sprintf("%s/users/%d/borrow-history", c.usersURL, userID), nil, &records, nil); err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "LOAN\tBOOK\tBORROWED\tRETURNED")
			for _, r := range records {
				returned := "-"
				if r.ReturnedAt != nil {
					returned = *r.ReturnedAt
				}
				fmt.Fprintf(w, "%d\t%d\t%s\t%s\n", r.ID, r.BookID, r.BorrowedAt, returned)
			}
			return w.Flush()
		},
	}
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
