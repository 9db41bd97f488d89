package cdp

import (
	"context"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"
)

type evaluateParams struct {
	Expression    string `json:"expression"`
	ReturnByValue bool   `json:"returnByValue,omitempty"`
	AwaitPromise  bool   `json:"awaitPromise,omitempty"`
	UserGesture   bool   `json:"userGesture,omitempty"`
}

type releaseObjectParams struct {
	ObjectID string `json:"objectId"`
}

type awaitPromiseParams struct {
	PromiseObjectID string `json:"promiseObjectId"`
	ReturnByValue   bool   `json:"returnByValue,omitempty"`
}

// Evaluate runs expression in the page's main world. A thrown exception is
// reported through EvaluateResult.ExceptionDetails, not as an error.
func (c *Client) Evaluate(ctx context.Context, expression string, returnByValue bool) (*EvaluateResult, error) {
	var res EvaluateResult
	err := c.Call(ctx, runtime.CommandEvaluate, evaluateParams{
		Expression:    expression,
		ReturnByValue: returnByValue,
	}, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// AwaitPromise waits for the promise behind objectID to settle.
func (c *Client) AwaitPromise(ctx context.Context, objectID string, returnByValue bool) (*EvaluateResult, error) {
	var res EvaluateResult
	err := c.Call(ctx, runtime.CommandAwaitPromise, awaitPromiseParams{
		PromiseObjectID: objectID,
		ReturnByValue:   returnByValue,
	}, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// ReleaseObject frees the remote handle objectID in the page.
func (c *Client) ReleaseObject(ctx context.Context, objectID string) error {
	return c.Call(ctx, runtime.CommandReleaseObject, releaseObjectParams{ObjectID: objectID}, nil)
}

// WatchNavigations enables page events and calls fn with the new URL after
// every top-level navigation until ctx ends or the connection closes.
func (c *Client) WatchNavigations(ctx context.Context, fn func(url string)) error {
	events, cancel := c.Subscribe(string(cdproto.EventPageFrameNavigated))
	if err := c.Call(ctx, page.CommandEnable, nil, nil); err != nil {
		cancel()
		return err
	}

	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				var nav frameNavigated
				if err := json.Unmarshal(ev.Params, &nav); err != nil {
					c.logger.Debug("Ignoring malformed navigation event.", zap.Error(err))
					continue
				}
				if nav.Frame.ParentID == "" {
					fn(nav.Frame.URL)
				}
			}
		}
	}()
	return nil
}
