// hashgen creates a user directly in the database, hashing the supplied
// enrollment PIN with the service's salted hash so support staff can be
// provisioned without going through the platform UI.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/brightpath/compliance-core/internal/config"
	"github.com/brightpath/compliance-core/internal/crypto"
	"github.com/brightpath/compliance-core/internal/rbac"
	"github.com/brightpath/compliance-core/internal/store"
)

func main() {
	if len(os.Args) != 4 {
		fmt.Fprintf(os.Stderr, "Usage: %s <email> <pin> <role>\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Example: %s admin@district.example mypin district_admin\n", os.Args[0])
		os.Exit(1)
	}

	email := os.Args[1]
	pin := os.Args[2]
	role := string(rbac.NormalizeRole(os.Args[3]))

	pinHash, err := crypto.HashData([]byte(pin))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating hash: %v\n", err)
		os.Exit(1)
	}

	cfg := config.Load()
	st, err := store.NewPostgresStore(&cfg.Database)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	ctx := context.Background()
	id := uuid.New()
	err = st.Insert(ctx, store.Users, store.Record{
		"id":         id,
		"email":      email,
		"role":       role,
		"pin_hash":   pinHash,
		"created_at": time.Now(),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create user: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("User created successfully: %s (%s)\n", email, role)
}
