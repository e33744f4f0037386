package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"

	"github.com/ZXZCAT/bot-worker/cmd/botworker/internal"
	"github.com/ZXZCAT/bot-worker/pkg/history"
	"github.com/ZXZCAT/bot-worker/pkg/logger"
	"github.com/ZXZCAT/bot-worker/pkg/workersai"
)

func chatCmd(configPath, message string, debug bool) error {
	if debug {
		logger.SetLevel(logger.DEBUG)
	}

	cfg, err := internal.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	ai := workersai.NewClient(cfg.WorkersAI, cfg.Bot.SystemPrompt)
	ctx := context.Background()

	if message != "" {
		reply := ai.ChatComplete(ctx, []history.Turn{
			{Role: history.RoleUser, Content: message},
		})
		fmt.Println(reply)
		return nil
	}

	rl, err := readline.New("you> ")
	if err != nil {
		return fmt.Errorf("init readline: %w", err)
	}
	defer rl.Close()

	fmt.Println("Interactive chat. Ctrl-D or /quit to exit.")

	var turns []history.Turn
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			return nil
		}

		turns = append(turns, history.Turn{Role: history.RoleUser, Content: line})
		reply := ai.ChatComplete(ctx, turns)
		turns = append(turns, history.Turn{Role: history.RoleAssistant, Content: reply})
		turns = history.Truncate(turns, cfg.History.MaxExchanges)

		fmt.Println("bot>", reply)
	}
}
