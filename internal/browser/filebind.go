package browser

import (
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/agentify/agentifyd/pkg/models"
)

// cdpSender is the slice of the devtools session the binder needs.
// playwright.CDPSession satisfies it.
type cdpSender interface {
	Send(method string, params map[string]interface{}) (interface{}, error)
}

// FileBinder attaches local files to the page's file input. The DOM is
// pierced over CDP rather than clicked through an OS picker.
type FileBinder interface {
	Bind(paths []string) error
}

// CDPFileBinder finds file inputs via the DOM devtools domain and binds
// files with Input-less DOM.setFileInputFiles. Chat UIs often mount the
// input lazily after the attach button is clicked, so discovery
// retries with jitter.
type CDPFileBinder struct {
	cdp cdpSender
	log *zap.SugaredLogger

	attempts int
	sleep    func(time.Duration)
	rng      *rand.Rand
}

func NewFileBinder(cdp cdpSender, log *zap.SugaredLogger) *CDPFileBinder {
	return &CDPFileBinder{
		cdp:      cdp,
		log:      log,
		attempts: 10,
		sleep:    time.Sleep,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (b *CDPFileBinder) Bind(paths []string) error {
	if len(paths) == 0 {
		return nil
	}

	var nodeIDs []int
	for attempt := 0; attempt < b.attempts; attempt++ {
		ids, err := b.findFileInputs()
		if err != nil {
			return models.ErrFileUploadUnavailable.With("cause", err.Error())
		}
		if len(ids) > 0 {
			nodeIDs = ids
			break
		}
		b.sleep(time.Duration(120+b.rng.Intn(120)) * time.Millisecond)
	}
	if len(nodeIDs) == 0 {
		return models.ErrMissingFileInput
	}

	// Newest-mounted input last in document order is usually the live
	// one, so bind in reverse and stop at the first success.
	var lastErr error
	for i := len(nodeIDs) - 1; i >= 0; i-- {
		_, err := b.cdp.Send("DOM.setFileInputFiles", map[string]interface{}{
			"files":  paths,
			"nodeId": nodeIDs[i],
		})
		if err == nil {
			b.log.Debugw("bound files to input", "nodeId", nodeIDs[i], "files", len(paths))
			return nil
		}
		lastErr = err
	}
	return models.ErrFileUploadUnavailable.With("cause", lastErr.Error())
}

func (b *CDPFileBinder) findFileInputs() ([]int, error) {
	doc, err := b.cdp.Send("DOM.getDocument", map[string]interface{}{
		"depth":  12,
		"pierce": true,
	})
	if err != nil {
		return nil, err
	}
	rootID, ok := digFloat(doc, "root", "nodeId")
	if !ok {
		return nil, nil
	}

	found, err := b.cdp.Send("DOM.querySelectorAll", map[string]interface{}{
		"nodeId":   int(rootID),
		"selector": `input[type="file"]`,
	})
	if err != nil {
		return nil, err
	}
	result, ok := found.(map[string]interface{})
	if !ok {
		return nil, nil
	}
	rawIDs, _ := result["nodeIds"].([]interface{})
	ids := make([]int, 0, len(rawIDs))
	for _, raw := range rawIDs {
		if f, ok := raw.(float64); ok && f > 0 {
			ids = append(ids, int(f))
		}
	}
	return ids, nil
}

// digFloat walks nested string-keyed maps to a float64 leaf.
func digFloat(raw interface{}, path ...string) (float64, bool) {
	current := raw
	for i, key := range path {
		m, ok := current.(map[string]interface{})
		if !ok {
			return 0, false
		}
		current, ok = m[key]
		if !ok {
			return 0, false
		}
		if i == len(path)-1 {
			f, ok := current.(float64)
			return f, ok
		}
	}
	return 0, false
}

// NoopBinder is used where file upload is not wired (tests, remote
// backends without local paths).
type NoopBinder struct{}

func (NoopBinder) Bind([]string) error { return models.ErrFileUploadUnavailable }
