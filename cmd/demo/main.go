// Command demo is an interactive viewer for a fine-tuned translation
// model: type a sentence, get its translation.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/transformer_mt/tokenizer"
	"github.com/transformer_mt/transformer"
)

func main() {
	modelDir := flag.String("model_dir", "output_dir", "directory with the fine-tuned model")
	sourceLang := flag.String("source_lang", "en", "source language code")
	targetLang := flag.String("target_lang", "de", "target language code")
	genType := flag.String("generation_type", "beam_search", "decoding strategy: greedy or beam_search")
	beamSize := flag.Int("beam_size", 5, "beam width for beam_search decoding")
	maxLen := flag.Int("max_seq_length", 128, "maximum tokenized sequence length")
	flag.Parse()

	tok, err := tokenizer.Load(*modelDir)
	if err != nil {
		log.Fatal("load tokenizer", "err", err)
	}
	model, err := transformer.Load(*modelDir)
	if err != nil {
		log.Fatal("load model", "err", err)
	}
	model.SetTraining(false)

	prefix := fmt.Sprintf("translate %s to %s: ", *sourceLang, *targetLang)
	opt := transformer.GenerateOptions{
		Type:     *genType,
		BeamSize: *beamSize,
		MaxLen:   *maxLen,
	}

	fmt.Printf("Translation demo (%s -> %s). Type a sentence, or 'quit' to exit.\n", *sourceLang, *targetLang)
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			break
		}

		ids, err := tok.Encode(prefix+line, *maxLen)
		if err != nil {
			log.Error("encode input", "err", err)
			continue
		}
		out, err := model.Generate(ids, make([]bool, len(ids)), opt)
		if err != nil {
			log.Error("generate", "err", err)
			continue
		}
		fmt.Println(tok.Decode(out))
	}
	if err := scanner.Err(); err != nil {
		log.Fatal("read input", "err", err)
	}
}
