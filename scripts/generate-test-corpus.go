//go:build ignore

// Generates a synthetic chunk record corpus for benchmarking index
// builds and queries.
// Usage: go run scripts/generate-test-corpus.go -chunks 5000 -output chunks.jsonl
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
)

var (
	numChunks = flag.Int("chunks", 5000, "Number of chunk records to generate")
	outPath   = flag.String("output", "chunks.jsonl", "Output JSONL file")
	rootRef   = flag.String("ref", "v6-32-00", "root_ref to stamp on every record")
	commit    = flag.String("commit", "0123456789abcdef0123456789abcdef01234567", "resolved_commit to stamp")
	seed      = flag.Int64("seed", 42, "Random seed for reproducibility")
)

var classNames = []string{
	"TTree", "TH1", "TH2", "TFile", "TBranch", "TCanvas", "TGraph",
	"TAxis", "TDirectory", "TKey", "TLeaf", "TChain", "TProfile",
	"TRandom", "TMatrix", "TVector", "TLorentzVector", "TF1",
}

var methodNames = []string{
	"Draw", "Fill", "Write", "Read", "GetEntry", "SetBranchAddress",
	"Project", "Scale", "Integral", "Fit", "Clone", "Merge", "Reset",
	"GetBinContent", "SetTitle", "Browse", "Print", "Streamer",
}

var keywords = []string{
	"histogram", "branch", "entry", "axis", "bin", "fit", "draw",
	"selection", "cut", "weight", "cycle", "basket", "cluster",
}

const methodTemplate = `%s %s::%s(%s)
{
   // %s
   if (!fInitialized) {
      Error("%s", "object not initialized");
      return %s;
   }
   %s
   return %s;
}`

func main() {
	flag.Parse()
	rng := rand.New(rand.NewSource(*seed))

	f, err := os.Create(*outPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create output: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	line := 1
	for i := 0; i < *numChunks; i++ {
		class := classNames[rng.Intn(len(classNames))]
		method := methodNames[rng.Intn(len(methodNames))]
		span := 20 + rng.Intn(60)

		content := fmt.Sprintf(methodTemplate,
			"Int_t", class, method, "Option_t* option",
			fmt.Sprintf("%s the %s contents honoring option", method, keywords[rng.Intn(len(keywords))]),
			method, "0",
			fmt.Sprintf("fResult = Process%s(option);", method),
			"fResult")

		record := map[string]any{
			"root_ref":        *rootRef,
			"resolved_commit": *commit,
			"file_path":       fmt.Sprintf("pkg%d/src/%s.cxx", i%40, class),
			"language":        "cpp",
			"start_line":      line,
			"end_line":        line + span,
			"content":         content,
			"doc_origin":      "source_impl",
			"symbol_path":     fmt.Sprintf("%s::%s", class, method),
			"symbol_kind":     "method",
			"keywords":        []string{keywords[rng.Intn(len(keywords))], keywords[rng.Intn(len(keywords))]},
			"has_doxygen":     rng.Intn(3) == 0,
		}
		if err := enc.Encode(record); err != nil {
			fmt.Fprintf(os.Stderr, "write record: %v\n", err)
			os.Exit(1)
		}
		line += span + rng.Intn(10) + 1
	}

	fmt.Printf("wrote %d chunk records to %s\n", *numChunks, *outPath)
}
