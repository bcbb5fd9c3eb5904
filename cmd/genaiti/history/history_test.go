//go:build cgo

package historycmder

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/cobra"

	"github.com/ntealan/genaiti/cmd/genaiti/cliconfig"
	"github.com/ntealan/genaiti/store"
)

var _ = Describe("History Command", func() {
	var (
		ctx     context.Context
		tmpDir  string
		cfgPath string
		out     *bytes.Buffer
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		tmpDir, err = os.MkdirTemp("", "genaiti-history-test-*")
		Expect(err).NotTo(HaveOccurred())
		dbPath := filepath.Join(tmpDir, "genaiti.db")
		cfgPath = filepath.Join(tmpDir, "genaiti.yaml")
		Expect(os.WriteFile(cfgPath, []byte("db_path: "+dbPath+"\n"), 0o644)).To(Succeed())

		// Seed the run log
		st, err := store.New(dbPath, 0, nil)
		Expect(err).NotTo(HaveOccurred())
		for _, r := range []store.Run{
			{RunID: "r1", SessionID: "default", Question: "combien de dictionnaires ?", Answer: "Il y a 3 dictionnaires.", Outcome: "answered", ElapsedMs: 120},
			{RunID: "r2", SessionID: "s2", Question: "Bonjour", Answer: "Bonjour !", Outcome: "rejected", ElapsedMs: 40},
			{RunID: "r3", SessionID: "default", Question: "liste les mots yemba", Answer: "mbɔ̀, ndʉ̀", Outcome: "direct", ElapsedMs: 80},
		} {
			_, err := st.LogRun(ctx, r)
			Expect(err).NotTo(HaveOccurred())
		}
		Expect(st.Close()).To(Succeed())

		out = &bytes.Buffer{}
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	execute := func(args ...string) error {
		root := &cobra.Command{Use: "genaiti", SilenceUsage: true, SilenceErrors: true}
		cliconfig.AddFlags(root)
		root.AddCommand(NewHistoryCmd())
		root.SetOut(out)
		root.SetArgs(append([]string{"--config", cfgPath, "history"}, args...))
		return root.ExecuteContext(ctx)
	}

	decodeRuns := func() []store.Run {
		var runs []store.Run
		Expect(json.Unmarshal(out.Bytes(), &runs)).To(Succeed())
		return runs
	}

	It("lists runs newest first", func() {
		Expect(execute("--json")).To(Succeed())
		runs := decodeRuns()
		Expect(runs).To(HaveLen(3))
		Expect(runs[0].RunID).To(Equal("r3"))
		Expect(runs[2].RunID).To(Equal("r1"))
	})

	It("filters by session, outcome and text", func() {
		Expect(execute("--json", "--session", "default", "--outcome", "answered")).To(Succeed())
		runs := decodeRuns()
		Expect(runs).To(HaveLen(1))
		Expect(runs[0].RunID).To(Equal("r1"))

		out.Reset()
		Expect(execute("--json", "--like", "yemba")).To(Succeed())
		Expect(decodeRuns()).To(HaveLen(1))
	})

	It("renders a table", func() {
		Expect(execute("--limit", "2")).To(Succeed())
		Expect(out.String()).To(ContainSubstring("OUTCOME"))
		Expect(out.String()).To(ContainSubstring("liste les mots yemba"))
		Expect(out.String()).NotTo(ContainSubstring("combien de dictionnaires"))
	})

	It("ranks related runs by keyword", func() {
		Expect(execute("--json", "--related", "les mots yemba")).To(Succeed())
		var related []store.RelatedRun
		Expect(json.Unmarshal(out.Bytes(), &related)).To(Succeed())
		Expect(related).To(HaveLen(1))
		Expect(related[0].RunID).To(Equal("r3"))
		Expect(related[0].Methods).To(Equal([]string{store.MethodKeyword}))
	})

	It("prints counts with --stats", func() {
		Expect(execute("--stats")).To(Succeed())
		Expect(out.String()).To(ContainSubstring("runs: 3\n"))
		Expect(out.String()).To(ContainSubstring("  answered: 1\n  direct: 1\n  rejected: 1\n"))
	})

	It("reports an empty log", func() {
		Expect(execute("--outcome", "unsafe")).To(Succeed())
		Expect(out.String()).To(Equal("No runs.\n"))
	})

	It("refuses to run without history", func() {
		Expect(os.WriteFile(cfgPath, []byte("no_history: true\n"), 0o644)).To(Succeed())
		Expect(execute()).To(MatchError(ContainSubstring("history is disabled")))
	})
})

var _ = Describe("truncate", func() {
	It("keeps short text and cuts long text", func() {
		Expect(truncate("  un   mot ", 10)).To(Equal("un mot"))
		Expect(truncate("abcdefghij", 5)).To(Equal("abcd…"))
	})
})
