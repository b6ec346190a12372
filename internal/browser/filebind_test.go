package browser

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/agentify/agentifyd/pkg/models"
)

type cdpCall struct {
	method string
	params map[string]interface{}
}

// scriptedCDP answers DOM.getDocument and DOM.querySelectorAll from a
// queue of nodeId sets, and records setFileInputFiles calls.
type scriptedCDP struct {
	calls    []cdpCall
	nodeSets [][]float64
	queryN   int
	bindErr  map[int]error
}

func (c *scriptedCDP) Send(method string, params map[string]interface{}) (interface{}, error) {
	c.calls = append(c.calls, cdpCall{method: method, params: params})
	switch method {
	case "DOM.getDocument":
		return map[string]interface{}{
			"root": map[string]interface{}{"nodeId": float64(1)},
		}, nil
	case "DOM.querySelectorAll":
		var ids []float64
		if c.queryN < len(c.nodeSets) {
			ids = c.nodeSets[c.queryN]
		}
		c.queryN++
		raw := make([]interface{}, len(ids))
		for i, id := range ids {
			raw[i] = id
		}
		return map[string]interface{}{"nodeIds": raw}, nil
	case "DOM.setFileInputFiles":
		nodeID := params["nodeId"].(int)
		if err, ok := c.bindErr[nodeID]; ok {
			return nil, err
		}
		return nil, nil
	}
	return nil, nil
}

func (c *scriptedCDP) binds() []cdpCall {
	var out []cdpCall
	for _, call := range c.calls {
		if call.method == "DOM.setFileInputFiles" {
			out = append(out, call)
		}
	}
	return out
}

func newTestBinder(cdp *scriptedCDP) *CDPFileBinder {
	b := NewFileBinder(cdp, zap.NewNop().Sugar())
	b.rng = rand.New(rand.NewSource(1))
	b.sleep = func(time.Duration) {}
	return b
}

func TestBindPrefersNewestInput(t *testing.T) {
	cdp := &scriptedCDP{nodeSets: [][]float64{{7, 9, 11}}}
	b := newTestBinder(cdp)

	require.NoError(t, b.Bind([]string{"/tmp/a.png"}))

	binds := cdp.binds()
	require.Len(t, binds, 1)
	assert.Equal(t, 11, binds[0].params["nodeId"])
	assert.Equal(t, []string{"/tmp/a.png"}, binds[0].params["files"])
}

func TestBindFallsBackAcrossInputs(t *testing.T) {
	cdp := &scriptedCDP{
		nodeSets: [][]float64{{7, 9}},
		bindErr:  map[int]error{9: errors.New("node is detached")},
	}
	b := newTestBinder(cdp)

	require.NoError(t, b.Bind([]string{"/tmp/a.png"}))

	binds := cdp.binds()
	require.Len(t, binds, 2)
	assert.Equal(t, 9, binds[0].params["nodeId"])
	assert.Equal(t, 7, binds[1].params["nodeId"])
}

func TestBindRetriesLazyMount(t *testing.T) {
	// Input appears on the third discovery pass.
	cdp := &scriptedCDP{nodeSets: [][]float64{{}, {}, {5}}}
	b := newTestBinder(cdp)

	require.NoError(t, b.Bind([]string{"/tmp/a.png"}))
	assert.Equal(t, 3, cdp.queryN)
}

func TestBindMissingInputAfterRetries(t *testing.T) {
	cdp := &scriptedCDP{}
	b := newTestBinder(cdp)
	b.attempts = 3

	err := b.Bind([]string{"/tmp/a.png"})
	assert.ErrorIs(t, err, models.ErrMissingFileInput)
	assert.Equal(t, 3, cdp.queryN)
}

func TestBindAllInputsFail(t *testing.T) {
	cdp := &scriptedCDP{
		nodeSets: [][]float64{{7}},
		bindErr:  map[int]error{7: errors.New("detached")},
	}
	b := newTestBinder(cdp)

	err := b.Bind([]string{"/tmp/a.png"})
	require.ErrorIs(t, err, models.ErrFileUploadUnavailable)
	assert.Equal(t, "detached", models.ErrorData(err)["cause"])
}

func TestBindNoPathsIsNoop(t *testing.T) {
	cdp := &scriptedCDP{}
	b := newTestBinder(cdp)
	require.NoError(t, b.Bind(nil))
	assert.Empty(t, cdp.calls)
}

func TestNoopBinder(t *testing.T) {
	assert.ErrorIs(t, NoopBinder{}.Bind([]string{"/tmp/a"}), models.ErrFileUploadUnavailable)
}
