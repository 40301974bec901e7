// Package main 是 feedrec 的命令行入口：训练、评估、打分与特征查看。
//
// Usage:
//
//	feedrec [-config feedrec.yaml] <command> [flags]
//
// Commands:
//
//	schema                                 创建 posts / user_engagement / ml_models 表
//	train [-force] [-async]                训练并持久化新模型
//	evaluate                               在最近 eval_days 的互动上评估当前模型
//	info                                   输出当前模型信息
//	rank -user u -posts p1,p2 [-limit n]   为候选帖子打分排序
//	recommend -user u [-limit n]           召回候选池并返回推荐
//	features user|post|interaction -user u -post p
//
// Environment variables:
//   - FEEDREC_DATABASE_URL: PostgreSQL connection string (empty: in-memory store)
//   - FEEDREC_DATABASE_BREAKER_THRESHOLD: consecutive failures before the store breaker opens (default: 5, 0 disables)
//   - FEEDREC_ARTIFACTS_BACKEND: memory / redis / badger (default: memory)
//   - FEEDREC_LOG_LEVEL: log level (default: info)
//   - FEEDREC_METRICS_ADDR: listen address for /metrics (default: disabled)
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/goccy/go-json"

	"github.com/rushteam/feedrec/config"
	"github.com/rushteam/feedrec/store"
)

var errUsage = errors.New("usage error")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "feedrec: %v\n", err)
		}
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("feedrec", flag.ContinueOnError)
	configPath := fs.String("config", os.Getenv(config.EnvPrefix+"CONFIG"), "path to YAML config file")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "usage: feedrec [-config file] schema|train|evaluate|info|rank|recommend|features [flags]")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errUsage
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	a.serveMetrics()

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "schema":
		return a.cmdSchema(ctx, stdout)
	case "train":
		return a.cmdTrain(ctx, rest, stdout)
	case "evaluate":
		return a.cmdEvaluate(ctx, stdout)
	case "info":
		return a.cmdInfo(ctx, stdout)
	case "rank":
		return a.cmdRank(ctx, rest, stdout)
	case "recommend":
		return a.cmdRecommend(ctx, rest, stdout)
	case "features":
		return a.cmdFeatures(ctx, rest, stdout)
	default:
		fs.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func (a *app) cmdSchema(ctx context.Context, stdout io.Writer) error {
	if a.postgres == nil {
		_, err := io.WriteString(stdout, store.Schema)
		return err
	}
	if err := a.postgres.EnsureSchema(ctx); err != nil {
		return err
	}
	a.logger.Info().Msg("schema ready")
	return nil
}

func (a *app) cmdTrain(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("train", flag.ContinueOnError)
	force := fs.Bool("force", false, "retrain even if a model is loaded")
	async := fs.Bool("async", false, "start training in background and wait for it")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	if !*force {
		if _, err := a.trainer.LoadLatest(ctx); err != nil {
			return err
		}
		if a.trainer.Current() != nil {
			return writeJSON(stdout, a.trainer.ModelInfo())
		}
	}

	if *async {
		status := a.trainer.TrainAsync(*force)
		a.logger.Info().Str("status", status).Msg("training scheduled")
		a.trainer.Wait()
		return writeJSON(stdout, a.trainer.ModelInfo())
	}

	if _, err := a.trainer.Train(ctx); err != nil {
		return err
	}
	return writeJSON(stdout, a.trainer.ModelInfo())
}

func (a *app) cmdEvaluate(ctx context.Context, stdout io.Writer) error {
	if _, err := a.trainer.LoadLatest(ctx); err != nil {
		return err
	}
	report, err := a.trainer.Evaluate(ctx)
	if err != nil {
		return err
	}
	return writeJSON(stdout, report)
}

func (a *app) cmdInfo(ctx context.Context, stdout io.Writer) error {
	if _, err := a.trainer.LoadLatest(ctx); err != nil {
		return err
	}
	return writeJSON(stdout, a.trainer.ModelInfo())
}

func (a *app) cmdRank(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("rank", flag.ContinueOnError)
	userID := fs.String("user", "", "user id")
	posts := fs.String("posts", "", "comma separated candidate post ids")
	limit := fs.Int("limit", 0, "max results, 0 for all")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if *userID == "" {
		return fmt.Errorf("rank: -user is required")
	}

	results, err := a.engine.RankForUser(ctx, *userID, splitList(*posts), *limit)
	if err != nil {
		return err
	}
	return writeJSON(stdout, results)
}

func (a *app) cmdRecommend(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("recommend", flag.ContinueOnError)
	userID := fs.String("user", "", "user id")
	limit := fs.Int("limit", 0, "number of recommendations, 0 for configured default")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if *userID == "" {
		return fmt.Errorf("recommend: -user is required")
	}

	results, err := a.engine.GetUserRecommendations(ctx, *userID, *limit)
	if err != nil {
		return err
	}
	return writeJSON(stdout, results)
}

func (a *app) cmdFeatures(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("features: expected user, post or interaction")
	}
	kind := args[0]
	fs := flag.NewFlagSet("features "+kind, flag.ContinueOnError)
	userID := fs.String("user", "", "user id")
	postID := fs.String("post", "", "post id")
	if err := fs.Parse(args[1:]); err != nil {
		return errUsage
	}

	var (
		v   any
		err error
	)
	switch kind {
	case "user":
		v, err = a.extractor.ExtractUserFeatures(ctx, *userID)
	case "post":
		v, err = a.extractor.ExtractPostFeatures(ctx, *postID)
	case "interaction":
		v, err = a.extractor.ExtractInteractionFeatures(ctx, *userID, *postID)
	default:
		return fmt.Errorf("features: unknown kind %q", kind)
	}
	if err != nil {
		return err
	}
	return writeJSON(stdout, v)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
