package snapshot

import "github.com/bakkerme/ghsearch-feed/internal/core"

// ConfigProvider is implemented by processors that carry snapshot settings.
type ConfigProvider interface {
	SnapshotConfig() *core.SnapshotConfig
}

type SourceWrapper struct {
	core.SourceProcessor
	snapshot *core.SnapshotConfig
}

func (w *SourceWrapper) SnapshotConfig() *core.SnapshotConfig {
	return w.snapshot
}

type QualityWrapper struct {
	core.QualityProcessor
	snapshot *core.SnapshotConfig
}

func (w *QualityWrapper) SnapshotConfig() *core.SnapshotConfig {
	return w.snapshot
}

func WrapSource(processor core.SourceProcessor, cfg *core.SnapshotConfig) core.SourceProcessor {
	if processor == nil {
		return nil
	}
	if cfg == nil {
		return processor
	}
	return &SourceWrapper{SourceProcessor: processor, snapshot: cfg}
}

func WrapQuality(processor core.QualityProcessor, cfg *core.SnapshotConfig) core.QualityProcessor {
	if processor == nil {
		return nil
	}
	if cfg == nil {
		return processor
	}
	return &QualityWrapper{QualityProcessor: processor, snapshot: cfg}
}

// ConfigOf returns the snapshot settings of processor, or nil.
func ConfigOf(processor interface{}) *core.SnapshotConfig {
	provider, ok := processor.(ConfigProvider)
	if !ok {
		return nil
	}
	return provider.SnapshotConfig()
}
