// Package manifest 批量提交清单中的文档
package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fyerfyer/vector-processor/internal/services"
	"github.com/fyerfyer/vector-processor/pkg/taskqueue"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Manifest 待处理文档清单
type Manifest struct {
	Documents []services.Event `json:"documents" yaml:"documents"`
}

// Load 读取清单文件，.json按JSON解析，其余按YAML解析
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return Parse(data, strings.EqualFold(filepath.Ext(path), ".json"))
}

// Parse 解析清单内容
func Parse(data []byte, isJSON bool) (*Manifest, error) {
	var m Manifest
	if isJSON {
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("failed to parse manifest: %w", err)
		}
	} else if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	if len(m.Documents) == 0 {
		return nil, errors.New("manifest contains no documents")
	}
	return &m, nil
}

// Submitter 提交单个文档
type Submitter interface {
	Submit(ctx context.Context, ev services.Event) (string, error)
}

// QueueSubmitter 通过任务队列异步提交，返回任务ID
type QueueSubmitter struct {
	Queue taskqueue.Queue
}

// Submit 加入任务队列
func (s QueueSubmitter) Submit(ctx context.Context, ev services.Event) (string, error) {
	return services.Enqueue(ctx, s.Queue, ev, 0)
}

// PipelineSubmitter 在当前进程中同步处理，返回运行ID
type PipelineSubmitter struct {
	Pipeline *services.PipelineService
}

// Submit 同步处理文档
func (s PipelineSubmitter) Submit(ctx context.Context, ev services.Event) (string, error) {
	result, err := s.Pipeline.Process(ctx, ev)
	if err != nil {
		return "", err
	}
	return result.RunID, nil
}

// Failure 提交失败的文档
type Failure struct {
	SourceKey string `json:"source_key"`
	Error     string `json:"error"`
}

// Summary 批量提交结果
type Summary struct {
	Successful int       `json:"successful"`
	Failed     int       `json:"failed"`
	Total      int       `json:"total"`
	Failures   []Failure `json:"failures,omitempty"`
}

// Runner 依次提交清单中的文档
type Runner struct {
	submitter Submitter
	delay     time.Duration
	logger    *logrus.Logger
}

// NewRunner 创建清单执行器，delay为两次提交之间的间隔
func NewRunner(submitter Submitter, delay time.Duration, logger *logrus.Logger) *Runner {
	if logger == nil {
		logger = logrus.New()
	}
	return &Runner{submitter: submitter, delay: delay, logger: logger}
}

// Run 提交所有文档，单个失败不影响其余文档
// 上下文取消时停止，未提交的文档计为失败
func (r *Runner) Run(ctx context.Context, m *Manifest) Summary {
	summary := Summary{Total: len(m.Documents)}

	for i, ev := range m.Documents {
		if i > 0 && r.delay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(r.delay):
			}
		}
		if err := ctx.Err(); err != nil {
			for _, rest := range m.Documents[i:] {
				summary.Failed++
				summary.Failures = append(summary.Failures, Failure{SourceKey: rest.SourceKey, Error: err.Error()})
			}
			break
		}

		log := r.logger.WithFields(logrus.Fields{
			"source_file": ev.SourceFile,
			"lens_name":   ev.LensName,
			"pillar":      ev.Pillar,
		})

		id, err := r.submitter.Submit(ctx, ev)
		if err != nil {
			summary.Failed++
			summary.Failures = append(summary.Failures, Failure{SourceKey: ev.SourceKey, Error: err.Error()})
			log.WithError(err).Error("Failed to submit document")
			continue
		}
		summary.Successful++
		log.WithField("id", id).Info("Document submitted")
	}

	r.logger.WithFields(logrus.Fields{
		"successful": summary.Successful,
		"failed":     summary.Failed,
		"total":      summary.Total,
	}).Info("Manifest processed")

	return summary
}
