// Command notecheck is the operator CLI: schema migration, running or inspecting the
// pipeline for one submission, stalled reports, bulk ingest and lecture setup.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/Itypecode/E-DAV/models"
	"github.com/Itypecode/E-DAV/pkg/app"
	"github.com/Itypecode/E-DAV/pkg/config"
	"github.com/Itypecode/E-DAV/pkg/storage"
	"github.com/Itypecode/E-DAV/pkg/store"
	"github.com/Itypecode/E-DAV/process/ingest"
	"github.com/Itypecode/E-DAV/process/report"
	"github.com/Itypecode/E-DAV/process/sweeper"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "notecheck",
		Short:        "Operate the lecture-notes attendance pipeline",
		SilenceUsage: true,
	}
	root.AddCommand(
		migrateCmd(),
		processCmd(),
		inspectCmd(),
		stalledCmd(),
		resumeCmd(),
		ingestCmd(),
		lectureCmd(),
		userCmd(),
		ocrCmd(),
	)
	return root
}

// withApp builds the full application for commands that need providers or the pipeline.
func withApp(cmd *cobra.Command, fn func(a *app.App) error) error {
	cfg := config.Load()
	if err := cfg.RequireDB(); err != nil {
		return err
	}
	a, err := app.New(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := a.Close(ctx); err != nil {
			log.Printf("close: %v", err)
		}
	}()
	return fn(a)
}

// withStore opens only the database.
func withStore(fn func(s *store.Store) error) error {
	cfg := config.Load()
	db, err := store.Open(cfg)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	return fn(store.New(db))
}

func parseID(arg string) (uuid.UUID, error) {
	id, err := uuid.Parse(arg)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid id %q: %w", arg, err)
	}
	return id, nil
}

// describeImage reports when the image was stored and whether its key belongs to the
// submission's student and lecture. Keys not built by storage.NewKey are reported as foreign.
func describeImage(sub *models.Submission) map[string]any {
	out := map[string]any{"ref": sub.ImageRef}
	lectureID, userID, ok := storage.ParseKey(sub.ImageRef)
	if !ok {
		out["foreign_key"] = true
		return out
	}
	out["owner_matches"] = lectureID == sub.LectureInstanceID && userID == sub.UserID
	if ts, err := storage.KeyTime(sub.ImageRef); err == nil {
		out["stored_at"] = ts.UTC()
	}
	return out
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			cfg.DBAutoMigrate = true
			db, err := store.Open(cfg)
			if err != nil {
				return err
			}
			if sqlDB, err := db.DB(); err == nil {
				defer sqlDB.Close()
			}
			fmt.Println("migration completed")
			return nil
		},
	}
}

func processCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "process <submission-id>",
		Short: "Run the pipeline for one submission in the foreground, resuming from its status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(a *app.App) error {
				ctx, cancel := context.WithTimeout(cmd.Context(), a.Cfg.PipelineTimeout)
				defer cancel()
				if err := a.Pipeline.Process(ctx, id); err != nil {
					return err
				}
				sub, err := a.Store.GetSubmission(ctx, id)
				if err != nil {
					return err
				}
				fmt.Printf("%s status=%q decided=%v\n", sub.ID, sub.Status, sub.DecidedAt != nil)
				return nil
			})
		},
	}
}

func inspectCmd() *cobra.Command {
	var withText bool
	cmd := &cobra.Command{
		Use:   "inspect <submission-id>",
		Short: "Print a submission and its attendance record as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withStore(func(s *store.Store) error {
				ctx := cmd.Context()
				sub, err := s.GetSubmission(ctx, id)
				if err != nil {
					return err
				}
				if !withText {
					sub.OCRText = nil
				}
				rec, err := s.GetAttendance(ctx, sub.UserID, sub.LectureInstanceID)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{
					"submission":    sub,
					"embedding_dim": len(sub.Embedding),
					"image":         describeImage(sub),
					"attendance":    rec,
					"manually_set":  rec.ManuallySet(),
				})
			})
		},
	}
	cmd.Flags().BoolVar(&withText, "text", false, "include the OCR text")
	return cmd
}

func stalledCmd() *cobra.Command {
	var (
		after time.Duration
		limit int
	)
	cmd := &cobra.Command{
		Use:   "stalled",
		Short: "List undecided submissions not updated for a while (pipe-delimited)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(s *store.Store) error {
				subs, err := s.ListStalled(cmd.Context(), after, limit)
				if err != nil {
					return err
				}
				return report.Stalled(cmd.OutOrStdout(), subs, after)
			})
		},
	}
	cmd.Flags().DurationVar(&after, "after", 15*time.Minute, "minimum time since the last update")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum rows")
	return cmd
}

func resumeCmd() *cobra.Command {
	var (
		after time.Duration
		limit int
	)
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Restart the pipeline for stalled submissions and wait for the runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app.App) error {
				sw := &sweeper.Sweeper{Store: a.Store, After: after, Limit: limit, Resumer: a.Runner, Report: cmd.OutOrStdout()}
				res, err := sw.Sweep(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "resumed %d of %d\n", res.Resumed, res.Found)
				// app.Close drains the runs
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&after, "after", 15*time.Minute, "minimum time since the last update")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum submissions to resume")
	return cmd
}

func ingestCmd() *cobra.Command {
	var (
		dir, processed, failed string
		watch, verbose         bool
		workers                int
	)
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Submit scanned notes named <username>__<lecture-id>.<ext> from a directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app.App) error {
				in := &ingest.Ingester{
					Dir:          dir,
					ProcessedDir: processed,
					FailedDir:    failed,
					Intake:       a.Intake,
					Profiles:     a.Store,
					Workers:      workers,
					Verbose:      verbose,
				}
				if watch {
					return in.Watch(cmd.Context())
				}
				st, err := in.Scan(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "submitted=%d skipped=%d failed=%d\n", st.Submitted, st.Skipped, st.Failed)
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&dir, "dir", "public/notes", "directory to scan for note images")
	f.StringVar(&processed, "processed-dir", "public/processed", "where submitted files are moved")
	f.StringVar(&failed, "failed-dir", "public/failed", "where rejected files are moved")
	f.BoolVar(&watch, "watch", false, "keep watching the directory for new files")
	f.IntVar(&workers, "workers", 0, "worker pool size (default NumCPU)")
	f.BoolVarP(&verbose, "verbose", "v", false, "verbose per-file logging")
	return cmd
}

func lectureCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "lecture", Short: "Manage lecture instances"}

	var (
		teacher, code, name, date, start, end string
		enroll                                []string
	)
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a scheduled lecture instance and enroll students",
		RunE: func(cmd *cobra.Command, args []string) error {
			day, err := time.Parse("2006-01-02", date)
			if err != nil {
				return fmt.Errorf("--date must be YYYY-MM-DD: %w", err)
			}
			return withStore(func(s *store.Store) error {
				ctx := cmd.Context()
				t, err := s.ProfileByUsername(ctx, teacher)
				if err != nil {
					return fmt.Errorf("teacher %q: %w", teacher, err)
				}
				if t.Role != models.RoleTeacher {
					return fmt.Errorf("%q is a %s, not a teacher", teacher, t.Role)
				}
				lec := &models.LectureInstance{
					TeacherID:   t.ID,
					SubjectCode: code,
					SubjectName: name,
					LectureDate: day,
					StartTime:   start,
					EndTime:     end,
				}
				if err := s.CreateLecture(ctx, lec); err != nil {
					return err
				}
				var ids []uuid.UUID
				for _, u := range enroll {
					u = strings.TrimSpace(u)
					if u == "" {
						continue
					}
					p, err := s.ProfileByUsername(ctx, u)
					if err != nil {
						return fmt.Errorf("student %q: %w", u, err)
					}
					ids = append(ids, p.ID)
				}
				n := int64(0)
				if len(ids) > 0 {
					if n, err = s.Enroll(ctx, lec.ID, ids); err != nil {
						return err
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created lecture %s (%s %s) enrolled=%d\n", lec.ID, code, date, n)
				return nil
			})
		},
	}
	f := create.Flags()
	f.StringVar(&teacher, "teacher", "", "teacher username")
	f.StringVar(&code, "code", "", "subject code")
	f.StringVar(&name, "name", "", "subject name")
	f.StringVar(&date, "date", time.Now().Format("2006-01-02"), "lecture date (YYYY-MM-DD)")
	f.StringVar(&start, "start", "", "start time HH:MM:SS")
	f.StringVar(&end, "end", "", "end time HH:MM:SS")
	f.StringSliceVar(&enroll, "enroll", nil, "student usernames to enroll (comma separated)")
	_ = create.MarkFlagRequired("teacher")
	_ = create.MarkFlagRequired("code")

	cmd.AddCommand(create)
	return cmd
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "user", Short: "Manage accounts"}
	var name, role string
	create := &cobra.Command{
		Use:   "create <username> <password>",
		Short: "Create a student or teacher account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if role != models.RoleStudent && role != models.RoleTeacher {
				return fmt.Errorf("--role must be %s or %s", models.RoleStudent, models.RoleTeacher)
			}
			if name == "" {
				name = args[0]
			}
			return withStore(func(s *store.Store) error {
				p, err := s.CreateProfile(cmd.Context(), args[0], name, role, args[1])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created %s %s id=%s\n", p.Role, p.Username, p.ID)
				return nil
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "display name (defaults to the username)")
	create.Flags().StringVar(&role, "role", models.RoleStudent, "student or teacher")

	reset := &cobra.Command{
		Use:   "reset-password <username> <password>",
		Short: "Replace an account's password",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args[1]) < 6 {
				return fmt.Errorf("password too short (min 6)")
			}
			return withStore(func(s *store.Store) error {
				if err := s.SetPassword(cmd.Context(), args[0], args[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Password reset for user %s\n", args[0])
				return nil
			})
		},
	}
	cmd.AddCommand(create, reset)
	return cmd
}

// ocrCmd runs the configured primary/fallback OCR on a local image, for checking
// provider settings without uploading anything.
func ocrCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ocr <image-file>",
		Short: "Transcribe a local image with the configured OCR providers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			abs, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(a *app.App) error {
				ex := *a.OCR
				ex.Images = &storage.Local{Base: filepath.Dir(abs)}
				res := ex.Extract(cmd.Context(), filepath.Base(abs))
				fmt.Fprintf(cmd.OutOrStdout(), "provider=%q chars=%d\n%s\n", res.Provider, len(res.Text), res.Text)
				return nil
			})
		},
	}
}
