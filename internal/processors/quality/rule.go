package quality

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/bakkerme/ghsearch-feed/internal/config"
	"github.com/bakkerme/ghsearch-feed/internal/core"
)

// RuleProcessor drops search results matching an expr expression.
type RuleProcessor struct {
	name    string
	config  config.ExcludeRule
	program *vm.Program
	logger  *slog.Logger
}

func NewRuleProcessor(cfg *config.ExcludeRule, logger *slog.Logger) (*RuleProcessor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("exclude rule config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	program, err := expr.Compile(cfg.Rule, expr.Env(resultEnv(core.SearchResult{})), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile exclude rule: %w", err)
	}
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		name = "exclude"
	}
	return &RuleProcessor{
		name:    name,
		config:  *cfg,
		program: program,
		logger:  logger,
	}, nil
}

func (p *RuleProcessor) Name() string {
	return p.name
}

func (p *RuleProcessor) Validate() error {
	if strings.TrimSpace(p.config.Rule) == "" {
		return fmt.Errorf("exclude rule expression is required")
	}
	return nil
}

// Evaluate keeps results for which the rule is false. A result the rule
// cannot be evaluated against is kept and logged.
func (p *RuleProcessor) Evaluate(ctx context.Context, results []core.SearchResult) ([]core.SearchResult, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	logger := core.LoggerFromContextOr(ctx, p.logger)
	kept := make([]core.SearchResult, 0, len(results))
	dropped := 0

	for _, result := range results {
		out, err := expr.Run(p.program, resultEnv(result))
		if err != nil {
			logger.Warn("exclude rule failed, keeping result",
				slog.String("rule", p.name),
				slog.String("html_url", result.HTMLURL),
				slog.Any("error", err),
			)
			kept = append(kept, result)
			continue
		}
		drop, ok := out.(bool)
		if !ok {
			return nil, fmt.Errorf("exclude rule did not return bool")
		}
		if drop {
			dropped++
			logger.Debug("excluded result", slog.String("rule", p.name), slog.String("html_url", result.HTMLURL))
			continue
		}
		kept = append(kept, result)
	}

	if dropped > 0 {
		logger.Info("exclude rule applied", slog.String("rule", p.name), slog.Int("dropped", dropped), slog.Int("kept", len(kept)))
	}
	return kept, nil
}

func resultEnv(result core.SearchResult) map[string]interface{} {
	owner, repo, _ := strings.Cut(result.Repository, "/")
	return map[string]interface{}{
		"repository": map[string]interface{}{
			"full_name": result.Repository,
			"owner":     owner,
			"name":      repo,
		},
		"name":            result.Name,
		"path":            result.Path,
		"dir":             path.Dir(result.Path),
		"extension":       strings.TrimPrefix(path.Ext(result.Name), "."),
		"sha":             result.SHA,
		"url":             result.HTMLURL,
		"api_url":         result.APIURL,
		"modified_at":     result.ModifiedAt,
		"has_modified_at": !result.ModifiedAt.IsZero(),
	}
}
