package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kacperjurak/goimpfit/pkg/config"
	"github.com/kacperjurak/goimpfit/pkg/models"
)

func stubProcessor(ctx context.Context, freqs []float64, impData [][2]float64, cfg *config.Config) (*models.Report, error) {
	if len(freqs) == 0 {
		return nil, errors.New("empty")
	}
	return &models.Report{Circuit: cfg.Circuit}, nil
}

func job(id int, n int) models.WorkItem {
	freqs := make([]float64, n)
	imp := make([][2]float64, n)
	for i := range freqs {
		freqs[i] = float64(i + 1)
		imp[i] = [2]float64{float64(i), -float64(i)}
	}
	return models.WorkItem{
		ID:        id,
		RequestID: "req",
		Iteration: id,
		Freqs:     freqs,
		ImpData:   imp,
		Config:    config.DefaultConfig(),
	}
}

func TestPoolResults(t *testing.T) {
	p := New(Options{Workers: 3, Processor: stubProcessor})
	defer p.Shutdown()

	const n = 10
	go func() {
		for i := 0; i < n; i++ {
			p.SubmitJob(job(i, 5+i))
		}
	}()

	seen := make(map[int]bool)
	for len(seen) < n {
		select {
		case res := <-p.Results():
			require.True(t, res.Success)
			require.NotNil(t, res.Report)
			assert.Equal(t, "req", res.Report.RequestID)
			assert.Equal(t, config.DefaultConfig().Circuit, res.CircuitCode)
			assert.Len(t, res.RealImp, 5+res.Iteration)
			assert.Equal(t, -float64(4), res.ImagImp[4])
			seen[res.Iteration] = true
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for results")
		}
	}
}

func TestPoolProcess(t *testing.T) {
	p := New(Options{Workers: 1, Processor: stubProcessor})
	defer p.Shutdown()

	res, err := p.Process(context.Background(), job(1, 4))
	require.NoError(t, err)
	assert.True(t, res.Success)

	res, err = p.Process(context.Background(), job(2, 0))
	require.NoError(t, err)
	assert.False(t, res.Success)
	require.Error(t, res.Err)

	// reply channels bypass the shared results channel
	_, ok := p.GetResult()
	assert.False(t, ok)
}

func TestPoolProcessCancelled(t *testing.T) {
	block := make(chan struct{})
	p := New(Options{Workers: 1, Processor: func(ctx context.Context, f []float64, z [][2]float64, c *config.Config) (*models.Report, error) {
		<-block
		return &models.Report{}, nil
	}})
	defer func() {
		close(block)
		p.Shutdown()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := p.Process(ctx, job(1, 3))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPoolProcessCancelsProcessor(t *testing.T) {
	observed := make(chan error, 1)
	p := New(Options{Workers: 1, Processor: func(ctx context.Context, f []float64, z [][2]float64, c *config.Config) (*models.Report, error) {
		select {
		case <-ctx.Done():
			observed <- ctx.Err()
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			observed <- nil
			return &models.Report{}, nil
		}
	}})
	defer p.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := p.Process(ctx, job(1, 3))
	require.ErrorIs(t, err, context.DeadlineExceeded)

	select {
	case err := <-observed:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("processor kept running after the caller gave up")
	}
}

func TestPoolWebhooks(t *testing.T) {
	var (
		mu   sync.Mutex
		sent []string
	)
	p := New(Options{
		Workers:   1,
		Processor: stubProcessor,
		Sender: func(ctx context.Context, item models.WebhookItem) error {
			mu.Lock()
			sent = append(sent, item.RequestID)
			mu.Unlock()
			return nil
		},
	})

	p.QueueWebhook(models.WebhookItem{RequestID: "a"})
	p.QueueWebhook(models.WebhookItem{RequestID: "b"})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(sent) == 2
	}, 5*time.Second, 5*time.Millisecond)
	p.Shutdown()

	assert.ElementsMatch(t, []string{"a", "b"}, sent)
}

func TestExtractImpedanceData(t *testing.T) {
	p := &Pool{}
	buf := &bufferSet{}
	p.extractImpedanceData([][2]float64{{1, -1}, {2, -2}, {3, -3}}, buf)
	assert.Equal(t, []float64{1, 2, 3}, buf.Real)
	assert.Equal(t, []float64{-1, -2, -3}, buf.Imag)

	p.extractImpedanceData([][2]float64{{4, -4}}, buf)
	assert.Equal(t, []float64{4}, buf.Real)
}
