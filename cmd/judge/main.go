// Command judge compiles one local source file, runs it against a problem's sample
// data and prints the result as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/cutekitek/rankode-judge/internal/compiler"
	"github.com/cutekitek/rankode-judge/internal/judge"
	"github.com/cutekitek/rankode-judge/internal/logger"
	"github.com/cutekitek/rankode-judge/internal/repository/models"
	"github.com/cutekitek/rankode-judge/internal/runner/process"
	"github.com/cutekitek/rankode-judge/internal/samples"
	"go.uber.org/zap"
)

func main() {
	var (
		src        = flag.String("src", "", "source file to judge")
		lang       = flag.String("lang", "cpp", "language tag")
		problem    = flag.String("problem", "", "problem id")
		samplesDir = flag.String("samples", "data/samples", "directory with <id>_input.txt and <id>_output.txt")
		timeLimit  = flag.Int("tl", 1, "time limit per case, seconds")
		memLimit   = flag.Int64("ml", 65536, "memory limit, KB")
		langsFile  = flag.String("languages", "", "JSON language table")
		logLevel   = flag.String("log", "warn", "log level")
	)
	flag.Parse()
	if *src == "" || *problem == "" {
		flag.Usage()
		os.Exit(2)
	}

	log, err := logger.New(*logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	langs := compiler.DefaultTable()
	if *langsFile != "" {
		if langs, err = compiler.LoadTable(*langsFile); err != nil {
			log.Fatal("failed to load languages", zap.Error(err))
		}
	}
	workRoot, err := os.MkdirTemp("", "rankode-judge-")
	if err != nil {
		log.Fatal("failed to create work root", zap.Error(err))
	}
	defer os.RemoveAll(workRoot)

	source, err := filepath.Abs(*src)
	if err != nil {
		log.Fatal("bad source path", zap.Error(err))
	}

	coordinator := judge.NewCoordinator(judge.Config{},
		compiler.New(compiler.Config{WorkRoot: workRoot}, langs, log),
		samples.NewLoader(samples.NewDirSource(*samplesDir)),
		process.NewRunner(process.Config{}, log),
		nil, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	res, err := coordinator.Judge(ctx, &models.Submission{
		RunID:            1,
		ProblemID:        *problem,
		Language:         *lang,
		SourcePath:       source,
		TimeLimitSeconds: *timeLimit,
		MemoryLimitKB:    *memLimit,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		log.Fatal("failed to encode result", zap.Error(err))
	}
}
