// internal/cdp/scan.go
package cdp

import (
	"context"
	"fmt"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/a11y-bridge/api/schemas"
)

const releaseTimeout = 2 * time.Second

type runOptions struct {
	RunOnly struct {
		Type   string   `json:"type"`
		Values []string `json:"values"`
	} `json:"runOnly"`
	ResultTypes []string `json:"resultTypes"`
}

// RunExpression builds the engine invocation restricted to tags. The promise
// is returned unawaited so the caller can await it as a separate step.
func RunExpression(tags []string) (string, error) {
	var opts runOptions
	opts.RunOnly.Type = "tag"
	opts.RunOnly.Values = tags
	opts.ResultTypes = []string{"violations"}

	raw, err := json.Marshal(opts)
	if err != nil {
		return "", fmt.Errorf("failed to encode run options: %w", err)
	}
	return fmt.Sprintf("window.axe.run(document, %s)", raw), nil
}

// RunScan evaluates the engine and awaits its promise. An exception at
// either step yields *ProtocolException; an evaluate failure never issues
// the await.
func (c *Client) RunScan(ctx context.Context, tags []string) (*schemas.ScanResult, error) {
	expr, err := RunExpression(tags)
	if err != nil {
		return nil, err
	}

	ev, err := c.Evaluate(ctx, expr, false)
	if err != nil {
		return nil, &ProtocolException{Phase: "evaluate", Err: err}
	}
	if d := ev.ExceptionDetails; d != nil {
		return nil, &ProtocolException{Phase: "evaluate", Text: d.Message(), LineNumber: d.LineNumber, ColumnNumber: d.ColumnNumber}
	}
	if ev.Result.ObjectID == "" {
		return nil, &ProtocolException{Phase: "evaluate", Text: fmt.Sprintf("expected a promise, got %s", ev.Result.Type)}
	}

	defer c.release(ctx, ev.Result.ObjectID)

	aw, err := c.AwaitPromise(ctx, ev.Result.ObjectID, true)
	if err != nil {
		return nil, &ProtocolException{Phase: "await", Err: err}
	}
	if d := aw.ExceptionDetails; d != nil {
		return nil, &ProtocolException{Phase: "await", Text: d.Message(), LineNumber: d.LineNumber, ColumnNumber: d.ColumnNumber}
	}

	var result schemas.ScanResult
	if err := json.Unmarshal(aw.Result.Value, &result); err != nil {
		return nil, &ProtocolException{Phase: "await", Err: fmt.Errorf("malformed scan result: %w", err)}
	}
	return &result, nil
}

// release frees the promise handle once the scan no longer needs it. It
// runs even when ctx has expired so a timed-out scan does not leak it.
func (c *Client) release(ctx context.Context, objectID string) {
	relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := c.ReleaseObject(relCtx, objectID); err != nil {
		c.logger.Debug("Failed to release promise handle.", zap.String("object_id", objectID), zap.Error(err))
	}
}
