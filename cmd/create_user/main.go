package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/Itypecode/E-DAV/models"
	"github.com/Itypecode/E-DAV/pkg/config"
	"github.com/Itypecode/E-DAV/pkg/store"
)

func main() {
	if len(os.Args) < 3 {
		fmt.Println("usage: go run ./cmd/create_user <username> <password> [student|teacher]")
		os.Exit(2)
	}
	username := os.Args[1]
	password := os.Args[2]
	role := models.RoleStudent
	if len(os.Args) > 3 {
		role = os.Args[3]
	}
	if role != models.RoleStudent && role != models.RoleTeacher {
		log.Fatalf("role must be student or teacher, got %q", role)
	}

	db, err := store.Open(config.Load())
	if err != nil {
		log.Fatalf("failed to open db: %v", err)
	}
	s := store.New(db)
	ctx := context.Background()

	// check existing
	if existing, err := s.ProfileByUsername(ctx, username); err == nil {
		fmt.Printf("user %s already exists (id=%s)\n", username, existing.ID)
		os.Exit(0)
	} else if !errors.Is(err, store.ErrNotFound) {
		log.Fatalf("lookup failed: %v", err)
	}

	p, err := s.CreateProfile(ctx, username, username, role, password)
	if err != nil {
		log.Fatalf("failed to create user: %v", err)
	}
	fmt.Printf("created %s %s id=%s\n", p.Role, username, p.ID)
}
