package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/kozaktomas/gate-attendance/internal/config"
	"github.com/kozaktomas/gate-attendance/internal/database"
	"github.com/kozaktomas/gate-attendance/internal/matcher"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var embeddingsCmd = &cobra.Command{
	Use:   "embeddings",
	Short: "Inspect and import enrollment embeddings",
}

var embeddingsCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify that every enrolled student has usable embeddings",
	Long: `Load the enrollment embeddings of every active student, the same way the
matcher does, and report students whose vectors cannot be used.

A student is reported when the embedding file cannot be read, when it holds
a number of poses other than the expected three, when a vector has zero norm,
or when a vector's dimension differs from the dominant one.

Pairs of different students whose enrollment vectors are nearly identical are
listed as possible duplicate enrollments. The search uses an approximate
nearest-neighbour graph, so it can miss pairs; use --similarity 0 to skip it.`,
	Args: cobra.NoArgs,
	RunE: runEmbeddingsCheck,
}

var embeddingsImportCmd = &cobra.Command{
	Use:   "import <student-id> <file>",
	Short: "Store a student's enrollment embeddings in PostgreSQL",
	Long: `Read an enrollment embedding file ([[...], [...], [...]] or {"embeddings": [...]})
and store its vectors for the student. Stored vectors take precedence over the
student's embedding_path file.`,
	Args: cobra.ExactArgs(2),
	RunE: runEmbeddingsImport,
}

func init() {
	rootCmd.AddCommand(embeddingsCmd)
	embeddingsCmd.AddCommand(embeddingsCheckCmd)
	embeddingsCmd.AddCommand(embeddingsImportCmd)

	embeddingsCheckCmd.Flags().Bool("quiet", false, "Hide the progress bar")
	embeddingsCheckCmd.Flags().Float64("similarity", 0.95, "Report student pairs at or above this cosine similarity (0 disables)")
}

type embeddingProblem struct {
	StudentID string
	Name      string
	Problem   string
}

// inspectIdentity returns the usable vectors of an identity and any problems found.
func inspectIdentity(ident database.EnrolledIdentity) ([][]float32, []string) {
	if ident.EmbeddingsErr != nil {
		return nil, []string{ident.EmbeddingsErr.Error()}
	}
	vectors := ident.Embeddings
	if len(vectors) == 0 {
		if ident.EmbeddingPath == "" {
			return nil, []string{"no stored embeddings and no embedding file"}
		}
		loaded, err := matcher.LoadEmbeddingFile(ident.EmbeddingPath)
		if err != nil {
			return nil, []string{err.Error()}
		}
		vectors = loaded
	}

	var problems []string
	if len(vectors) != matcher.ExpectedPoses {
		problems = append(problems, fmt.Sprintf("%d poses, expected %d", len(vectors), matcher.ExpectedPoses))
	}
	for i, v := range vectors {
		if _, ok := matcher.CosineSimilarity(v, v); !ok {
			problems = append(problems, fmt.Sprintf("pose %d is zero or non-finite", i))
		}
	}
	return vectors, problems
}

func runEmbeddingsCheck(cmd *cobra.Command, args []string) error {
	quiet := mustGetBool(cmd, "quiet")
	similarity := mustGetFloat64(cmd, "similarity")
	cfg := config.Load()
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}

	ctx := context.Background()
	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	identities, err := st.registry.ListEnrolledIdentities(ctx)
	if err != nil {
		return fmt.Errorf("failed to list enrolled students: %w", err)
	}

	var bar *progressbar.ProgressBar
	if !quiet {
		bar = progressbar.NewOptions(len(identities),
			progressbar.OptionSetDescription("Checking embeddings"),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("students"),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionFullWidth(),
		)
	}

	var problems []embeddingProblem
	dims := make(map[int]int)
	vectorsByID := make(map[string][][]float32, len(identities))
	for _, ident := range identities {
		vectors, found := inspectIdentity(ident)
		for _, p := range found {
			problems = append(problems, embeddingProblem{StudentID: ident.ID, Name: ident.Name, Problem: p})
		}
		vectorsByID[ident.ID] = vectors
		for _, v := range vectors {
			dims[len(v)]++
		}
		if bar != nil {
			bar.Add(1)
		}
	}
	if bar != nil {
		bar.Finish()
		fmt.Println()
	}

	dominant, count := 0, 0
	for dim, n := range dims {
		if n > count || (n == count && dim < dominant) {
			dominant, count = dim, n
		}
	}
	for _, ident := range identities {
		for i, v := range vectorsByID[ident.ID] {
			if len(v) != dominant {
				problems = append(problems, embeddingProblem{
					StudentID: ident.ID,
					Name:      ident.Name,
					Problem:   fmt.Sprintf("pose %d has %d dimensions, expected %d", i, len(v), dominant),
				})
			}
		}
	}

	fmt.Printf("Checked %d students (embedding dimension %d)\n", len(identities), dominant)

	if similarity > 0 {
		resolved := make([]database.EnrolledIdentity, 0, len(identities))
		for _, ident := range identities {
			resolved = append(resolved, database.EnrolledIdentity{ID: ident.ID, Name: ident.Name, Embeddings: vectorsByID[ident.ID]})
		}
		if pairs := matcher.FindSimilarEnrollments(resolved, similarity, 0); len(pairs) > 0 {
			fmt.Printf("\nPossible duplicate enrollments (similarity >= %.2f):\n", similarity)
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "STUDENT\tSTUDENT\tSIMILARITY")
			for _, p := range pairs {
				fmt.Fprintf(w, "%s\t%s\t%.4f\n", p.A, p.B, p.Score)
			}
			w.Flush()
			fmt.Println()
		}
	}

	if len(problems) == 0 {
		fmt.Println("All embeddings are usable")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STUDENT\tNAME\tPROBLEM")
	for _, p := range problems {
		fmt.Fprintf(w, "%s\t%s\t%s\n", p.StudentID, p.Name, p.Problem)
	}
	w.Flush()
	return fmt.Errorf("%d problems found", len(problems))
}

func runEmbeddingsImport(cmd *cobra.Command, args []string) error {
	studentID, path := args[0], args[1]
	cfg := config.Load()
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}

	vectors, err := matcher.LoadEmbeddingFile(path)
	if err != nil {
		return err
	}

	ctx := context.Background()
	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	student, err := st.roster.GetStudent(ctx, studentID)
	if err != nil {
		return err
	}
	if student == nil {
		return fmt.Errorf("student %s not found in PostgreSQL roster", studentID)
	}

	if err := st.roster.SaveEmbeddings(ctx, studentID, vectors); err != nil {
		return fmt.Errorf("failed to save embeddings: %w", err)
	}
	fmt.Printf("Stored %d embeddings for %s (%s)\n", len(vectors), student.Name, studentID)
	return nil
}
