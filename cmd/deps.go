package cmd

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/joescharf/osp/internal/git"
	"github.com/joescharf/osp/internal/llm"
	"github.com/joescharf/osp/internal/metadata"
	"github.com/joescharf/osp/internal/queue"
	"github.com/joescharf/osp/internal/refresh"
	"github.com/joescharf/osp/internal/resolver"
	"github.com/joescharf/osp/internal/store"
)

// refresherFunc builds the refresher used by commands, replaceable in tests.
var refresherFunc = defaultRefresher

func defaultRefresher(s store.Store) *refresh.Refresher {
	res := resolver.New(resolver.Config{
		Timeout:      viper.GetDuration("http.timeout"),
		MaxRedirects: viper.GetInt("http.max_redirects"),
		UserAgent:    viper.GetString("http.user_agent"),
	}, store.RepoLookup{Store: s})

	f := metadata.NewFetcher(git.NewClient(), viper.GetString("scratch_dir"), viper.GetDuration("refresh.clone_timeout"))

	var opts []refresh.Option
	if sum, ok := newSummarizer(); ok {
		opts = append(opts, refresh.WithSummarizer(sum))
	}
	return refresh.New(s, res, refresh.FromMetadata(f), opts...)
}

// newSummarizer returns the excerpt summarizer when an Anthropic API key is
// set in config or the ANTHROPIC_API_KEY environment variable.
func newSummarizer() (refresh.Summarizer, bool) {
	apiKey := viper.GetString("anthropic.api_key")
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, false
	}
	return llm.NewClient(apiKey, viper.GetString("anthropic.model")), true
}

// newRunner builds the refresh queue runner sharing the batch lock in the
// state directory with every other osp process.
func newRunner(s store.Store, r *refresh.Refresher, sched queue.Scheduler) (*queue.Runner, error) {
	dir, err := stateDir()
	if err != nil {
		return nil, err
	}
	return queue.NewRunner(s, s, r, sched, queue.Config{
		LockPath:   filepath.Join(dir, "refresh.lock"),
		BatchDelay: viper.GetDuration("refresh.batch_delay"),
	}), nil
}

// catalogDeps opens the store and builds the refresher and a runner without
// deferred scheduling.
func catalogDeps() (store.Store, *refresh.Refresher, *queue.Runner, error) {
	s, err := getStore()
	if err != nil {
		return nil, nil, nil, err
	}
	r := refresherFunc(s)
	q, err := newRunner(s, r, nil)
	if err != nil {
		return nil, nil, nil, err
	}
	return s, r, q, nil
}
