package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"noro/cmd"
	"noro/internal/client"
	"noro/internal/config"
	"noro/internal/forms"
	"noro/internal/tasks"
	"noro/pkg/api"

	"github.com/schollz/progressbar/v3"
)

const usage = `usage: noro [-env file] [-v] <command> [flags]

commands:
  generate   continue a seed text with the text generation model
  train      train a new model on a dataset file
  health     check that the backend is reachable
`

func main() {
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }

	cmd.LoadEnvFile()
	cmd.SetupLogging(*verbose)

	cfg, err := config.LoadClientConfig()
	if err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	backend := client.NewClient(cfg.ApiBaseUrl)
	session := tasks.NewSession(backend, tasks.NewProgressSimulator(cfg.ProgressInterval))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	var code int
	switch args[0] {
	case "generate":
		code = runGenerate(ctx, session.Generation, args[1:])
	case "train":
		code = runTrain(ctx, session.Training, args[1:])
	case "health":
		code = runHealth(ctx, backend)
	default:
		flag.Usage()
		code = 2
	}

	stop()
	os.Exit(code)
}

func runGenerate(ctx context.Context, task *tasks.GenerationTask, args []string) int {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	text := fs.String("text", "", "seed text, defaults to the remaining arguments")
	length := fs.Int("length", client.DefaultLength, "number of characters to generate")
	seqLen := fs.Int("seq-len", client.DefaultSeqLen, "sequence length used by the model")
	fs.Parse(args) //nolint:errcheck

	if *text == "" {
		*text = strings.Join(fs.Args(), " ")
	}
	if err := forms.ValidateText(*text); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	fmt.Fprintln(os.Stderr, "Generating...")

	task.ResetError()
	if err := task.Start(ctx, client.GenerationParams{Text: *text, Length: *length, SeqLen: *seqLen}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	task.Wait()

	state := task.State()
	if state.HasError() {
		fmt.Fprintf(os.Stderr, "Error: %s\n", state.Error)
		return 1
	}

	fmt.Println(state.Result.GeneratedText)
	return 0
}

func runTrain(ctx context.Context, task *tasks.TrainingTask, args []string) int {
	fs := flag.NewFlagSet("train", flag.ExitOnError)
	file := fs.String("file", "", "training dataset (.csv, .xlsx, .xls)")
	preset := fs.String("preset", string(forms.Medium), "model size preset: small, medium or large")
	chunkSize := fs.Int("chunk-size", 0, "characters per text chunk (default 120)")
	seqLen := fs.Int("seq-len", 0, "sequence length (default 50)")
	batchSize := fs.Int("batch-size", 0, "batch size (default from preset)")
	epochs := fs.Int("epochs", 0, "maximum number of epochs (default from preset)")
	embeddingDim := fs.Int("embedding-dim", 0, "embedding dimension (default from preset)")
	hiddenDim := fs.Int("hidden-dim", 0, "hidden dimension (default from preset)")
	numLayers := fs.Int("num-layers", 0, "number of LSTM layers (default from preset)")
	patience := fs.Int("patience", 0, "early stopping patience (default 3)")
	fs.Parse(args) //nolint:errcheck

	if *file == "" {
		fmt.Fprintln(os.Stderr, "a dataset file is required, see -file")
		return 2
	}
	if err := forms.ValidateDatasetName(*file); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	params, err := forms.TrainingPreset(forms.ModelSize(*preset))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	override(&params.ChunkSize, *chunkSize)
	override(&params.SeqLen, *seqLen)
	override(&params.BatchSize, *batchSize)
	override(&params.Epochs, *epochs)
	override(&params.EmbeddingDim, *embeddingDim)
	override(&params.HiddenDim, *hiddenDim)
	override(&params.NumLayers, *numLayers)
	override(&params.Patience, *patience)

	dataset, err := os.Open(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "unable to open dataset: %v\n", err)
		return 1
	}
	defer dataset.Close()

	info, err := dataset.Stat()
	if err != nil {
		fmt.Fprintf(os.Stderr, "unable to read dataset: %v\n", err)
		return 1
	}

	params.File = &client.Dataset{Name: filepath.Base(*file), Size: info.Size(), Content: dataset}

	fmt.Fprintf(os.Stderr, "Uploading %s (%.2f MB)\n", params.File.Name, float64(info.Size())/1024/1024)
	if rows, ok := countRows(*file); ok {
		epochCount := params.Epochs
		if epochCount <= 0 {
			epochCount = client.DefaultEpochs
		}
		fmt.Fprintf(os.Stderr, "Estimated training time: %s\n", forms.EstimateTrainingTime(epochCount, rows))
	}

	bar := progressbar.NewOptions(100,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("Training"),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionShowElapsedTimeOnFinish(),
	)
	unsubscribe := task.Subscribe(func(state tasks.State[api.TrainingResponse]) {
		bar.Set(int(state.Progress)) //nolint:errcheck
	})
	defer unsubscribe()

	task.ResetError()
	if err := task.Start(ctx, params); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	task.Wait()

	state := task.State()
	if state.HasError() {
		bar.Exit() //nolint:errcheck
		fmt.Fprintf(os.Stderr, "\nError: %s\n", state.Error)
		return 1
	}
	bar.Finish() //nolint:errcheck

	printTrainingResult(*state.Result)
	return 0
}

func runHealth(ctx context.Context, backend *client.Client) int {
	if err := backend.Health(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%s is not healthy: %s\n", backend.BaseUrl(), client.NormalizeError(err, client.ClientFallbackMessage))
		return 1
	}
	fmt.Printf("%s is healthy\n", backend.BaseUrl())
	return 0
}

func override(field *int, value int) {
	if value > 0 {
		*field = value
	}
}

// countRows counts the lines of a CSV dataset, minus its header.
func countRows(path string) (int, bool) {
	if strings.ToLower(filepath.Ext(path)) != ".csv" {
		return 0, false
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	rows := 0
	for scanner.Scan() {
		rows++
	}
	if scanner.Err() != nil {
		return 0, false
	}
	return max(rows-1, 0), true
}

func printTrainingResult(res api.TrainingResponse) {
	fmt.Println(res.Message)
	fmt.Printf("  test perplexity: %.4f\n", res.TestPerplexity)
	fmt.Printf("  test accuracy:   %.2f%%\n", res.TestAccuracy*100)
	fmt.Printf("  model path:      %s\n", res.ModelPath)
	if res.PublicUrl != "" {
		fmt.Printf("  download:        %s\n", res.PublicUrl)
	}
}
