package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/park285/chessledger/internal/fetch"
	"github.com/park285/chessledger/internal/platform/chesscom"
	"github.com/park285/chessledger/internal/service/replay"
)

// tcncheck prints the plies of an encoded move list, either given directly or
// fetched for a chess.com game URL.
func main() {
	gameURL := flag.String("url", "", "chess.com game URL to fetch the move list for")
	webURL := flag.String("web", chesscom.DefaultWebBaseURL, "chess.com web base URL")
	timeout := flag.Duration("timeout", 8*time.Second, "request timeout")
	flag.Parse()

	encoded := flag.Arg(0)
	if *gameURL != "" {
		web := fetch.NewClient("chesscom-web", *webURL, fetch.WithTimeout(*timeout))
		client := chesscom.NewClient(nil, web)
		ctx, cancel := context.WithTimeout(context.Background(), *timeout)
		defer cancel()
		list, err := client.FetchMoveList(ctx, *gameURL)
		if err != nil {
			log.Fatalf("fetch move list: %v", err)
		}
		encoded = list
	}
	if encoded == "" {
		fmt.Fprintln(os.Stderr, "usage: tcncheck [-url GAME_URL] [TCN]")
		os.Exit(2)
	}

	r, err := replay.FromTCN(encoded)
	if r == nil {
		log.Fatalf("decode: %v", err)
	}
	for _, p := range r.Plies {
		num := p.Index/2 + 1
		side := "."
		if p.Index%2 == 1 {
			side = "..."
		}
		fmt.Printf("%3d%-3s %-6s %-8s %s\n", num, side, p.Move, p.SAN, p.FEN)
	}
	if err != nil {
		var ue *replay.UnplayableError
		if errors.As(err, &ue) {
			log.Printf("replay stopped at ply %d: %v", ue.Ply+1, err)
			os.Exit(1)
		}
		log.Fatalf("replay: %v", err)
	}
	fmt.Printf("final: %s\n", r.Final)
}
