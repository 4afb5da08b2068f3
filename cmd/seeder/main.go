package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"gopkg.in/yaml.v3"

	"github.com/brightpath/compliance-core/internal/config"
	"github.com/brightpath/compliance-core/internal/store"
)

type SeedData struct {
	Users         []User         `yaml:"users"`
	Assignments   []Assignment   `yaml:"teacher_assignments"`
	Relationships []Relationship `yaml:"parent_relationships"`
	Consents      []Consent      `yaml:"consents"`
}

type User struct {
	Email       string `yaml:"email"`
	FirstName   string `yaml:"first_name"`
	LastName    string `yaml:"last_name"`
	Role        string `yaml:"role"`
	DateOfBirth string `yaml:"date_of_birth,omitempty"`
}

type Assignment struct {
	TeacherEmail string `yaml:"teacher_email"`
	StudentEmail string `yaml:"student_email"`
}

type Relationship struct {
	ParentEmail  string `yaml:"parent_email"`
	StudentEmail string `yaml:"student_email"`
	Verified     bool   `yaml:"verified"`
}

type Consent struct {
	StudentEmail   string   `yaml:"student_email"`
	GrantorEmail   string   `yaml:"grantor_email"`
	ConsentType    string   `yaml:"consent_type"`
	DataCategories []string `yaml:"data_categories,omitempty"`
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	if len(os.Args) < 2 {
		printUsage()
		return errors.New("command required")
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "seed":
		return seedCommand(args)
	case "nuke":
		return nukeCommand(args)
	case "help", "--help", "-h":
		printUsage()
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown command: %s", command)
	}
}

func seedCommand(args []string) error {
	fs := flag.NewFlagSet("seed", flag.ExitOnError)
	file := fs.String("file", "", "YAML file to seed from")
	dir := fs.String("dir", "", "Directory of YAML files to seed from")
	dryRun := fs.Bool("dry-run", false, "Validate files without making database changes")

	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("failed to parse flags: %w", err)
	}

	files, err := resolveFiles(*file, *dir)
	if err != nil {
		return err
	}

	seedData, err := loadSeedData(files)
	if err != nil {
		return fmt.Errorf("failed to load seed data: %w", err)
	}

	if *dryRun {
		fmt.Println("dry run: validating data structure")
		return validateSeedData(seedData)
	}

	cfg := config.Load()
	st, err := store.NewPostgresStore(&cfg.Database)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer st.Close()

	fmt.Printf("seeding database from %d file(s)\n", len(files))
	return applySeedData(context.Background(), st, seedData)
}

func nukeCommand(args []string) error {
	fs := flag.NewFlagSet("nuke", flag.ExitOnError)
	force := fs.Bool("force", false, "Skip confirmation prompt")

	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("failed to parse flags: %w", err)
	}

	if !*force && !confirmNuke() {
		fmt.Println("operation cancelled")
		return nil
	}

	return nukeDatabase()
}

func resolveFiles(file, dir string) ([]string, error) {
	if file == "" && dir == "" {
		return nil, errors.New("must specify either --file or --dir")
	}

	if file != "" && dir != "" {
		return nil, errors.New("cannot specify both --file and --dir")
	}

	if file != "" {
		return []string{file}, nil
	}

	return findYAMLFiles(dir)
}

func findYAMLFiles(dir string) ([]string, error) {
	var files []string

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.IsDir() && isYAMLFile(path) {
			files = append(files, path)
		}

		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to scan directory %s: %w", dir, err)
	}

	if len(files) == 0 {
		return nil, fmt.Errorf("no YAML files found in directory: %s", dir)
	}

	return files, nil
}

func isYAMLFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func loadSeedData(files []string) (*SeedData, error) {
	combined := &SeedData{}

	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read file %s: %w", file, err)
		}

		var fileData SeedData
		if err := yaml.Unmarshal(data, &fileData); err != nil {
			return nil, fmt.Errorf("failed to parse YAML in %s: %w", file, err)
		}

		combined.Users = append(combined.Users, fileData.Users...)
		combined.Assignments = append(combined.Assignments, fileData.Assignments...)
		combined.Relationships = append(combined.Relationships, fileData.Relationships...)
		combined.Consents = append(combined.Consents, fileData.Consents...)
	}

	return combined, nil
}

func validateSeedData(data *SeedData) error {
	fmt.Printf("  Users: %d\n", len(data.Users))
	fmt.Printf("  Teacher assignments: %d\n", len(data.Assignments))
	fmt.Printf("  Parent relationships: %d\n", len(data.Relationships))
	fmt.Printf("  Consents: %d\n", len(data.Consents))
	fmt.Println("data structure is valid")
	return nil
}

func applySeedData(ctx context.Context, st store.Store, data *SeedData) error {
	now := time.Now()

	userIDs := make(map[string]uuid.UUID)
	for _, user := range data.Users {
		id := uuid.New()
		rec := store.Record{
			"id":         id,
			"email":      user.Email,
			"first_name": user.FirstName,
			"last_name":  user.LastName,
			"role":       user.Role,
			"created_at": now,
		}
		if user.DateOfBirth != "" {
			dob, err := time.Parse("2006-01-02", user.DateOfBirth)
			if err != nil {
				return fmt.Errorf("invalid date_of_birth for %s: %w", user.Email, err)
			}
			rec["date_of_birth"] = dob
		}
		if err := st.Insert(ctx, store.Users, rec); err != nil {
			return fmt.Errorf("failed to create user %s: %w", user.Email, err)
		}
		userIDs[user.Email] = id
		fmt.Printf("created user: %s (%s)\n", user.Email, user.Role)
	}

	lookup := func(email, kind string) (uuid.UUID, error) {
		id, ok := userIDs[email]
		if !ok {
			return uuid.Nil, fmt.Errorf("%s %s not found in seed data", kind, email)
		}
		return id, nil
	}

	for _, a := range data.Assignments {
		teacherID, err := lookup(a.TeacherEmail, "teacher")
		if err != nil {
			return err
		}
		studentID, err := lookup(a.StudentEmail, "student")
		if err != nil {
			return err
		}
		err = st.Insert(ctx, store.TeacherAssignments, store.Record{
			"id":         uuid.New(),
			"teacher_id": teacherID,
			"student_id": studentID,
			"start_date": now,
			"created_at": now,
		})
		if err != nil {
			return fmt.Errorf("failed to create assignment %s -> %s: %w", a.TeacherEmail, a.StudentEmail, err)
		}
		fmt.Printf("created assignment: %s -> %s\n", a.TeacherEmail, a.StudentEmail)
	}

	for _, r := range data.Relationships {
		parentID, err := lookup(r.ParentEmail, "parent")
		if err != nil {
			return err
		}
		studentID, err := lookup(r.StudentEmail, "student")
		if err != nil {
			return err
		}
		err = st.Insert(ctx, store.ParentRelationships, store.Record{
			"id":         uuid.New(),
			"parent_id":  parentID,
			"student_id": studentID,
			"verified":   r.Verified,
			"created_at": now,
		})
		if err != nil {
			return fmt.Errorf("failed to create relationship %s -> %s: %w", r.ParentEmail, r.StudentEmail, err)
		}
		fmt.Printf("created relationship: %s -> %s\n", r.ParentEmail, r.StudentEmail)
	}

	for _, consent := range data.Consents {
		studentID, err := lookup(consent.StudentEmail, "student")
		if err != nil {
			return err
		}
		grantorID, err := lookup(consent.GrantorEmail, "grantor")
		if err != nil {
			return err
		}
		err = st.Insert(ctx, store.ConsentRecords, store.Record{
			"id":              uuid.New(),
			"subject_id":      studentID,
			"granted_by":      grantorID,
			"consent_type":    consent.ConsentType,
			"status":          "granted",
			"data_categories": consent.DataCategories,
			"granted_date":    now,
			"created_at":      now,
		})
		if err != nil {
			return fmt.Errorf("failed to create consent for %s: %w", consent.StudentEmail, err)
		}
		fmt.Printf("created consent: %s (%s)\n", consent.StudentEmail, consent.ConsentType)
	}

	return nil
}

func confirmNuke() bool {
	fmt.Print("This will DROP ALL DATA and re-run migrations. Type 'yes' to continue: ")
	reader := bufio.NewReader(os.Stdin)
	answer, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	return strings.TrimSpace(answer) == "yes"
}

func nukeDatabase() error {
	cfg := config.Load()

	// Open database connection for goose
	sqlDB, err := goose.OpenDBWithDriver("postgres", cfg.Database.ConnectionString())
	if err != nil {
		return fmt.Errorf("failed to open database for goose: %w", err)
	}
	defer sqlDB.Close()

	fmt.Println("resetting database with goose...")
	if err := goose.Reset(sqlDB, "db/migrations"); err != nil {
		return fmt.Errorf("goose reset failed: %w", err)
	}

	if err := goose.Up(sqlDB, "db/migrations"); err != nil {
		return fmt.Errorf("goose up failed: %w", err)
	}

	fmt.Println("database reset complete")
	return nil
}

func printUsage() {
	fmt.Println("Usage: seeder <command> [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  seed --file <file> | --dir <dir> [--dry-run]")
	fmt.Println("  nuke [--force]")
}
