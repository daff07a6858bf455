package sweep

import (
	"fmt"
	"io"
	"log/slog"
	"math"

	"github.com/aclements/go-moremath/stats"

	"github.com/kolkov/lfas/cppvm"
)

// Calibration is the measured spurious weak compare-exchange failure rate.
type Calibration struct {
	OneIn  int     // configured rate: one failure in OneIn attempts
	Want   float64 // 1/OneIn
	Trials int

	// Mean and StdDev are over batches of Trials/Batches attempts.
	Batches int
	Mean    float64
	StdDev  float64

	// Low and High bound the rate at 99% confidence, by the normal
	// approximation of the batch means.
	Low, High float64
}

// Ok reports whether Want lies within the confidence bounds.
func (c Calibration) Ok() bool {
	return c.Low <= c.Want && c.Want <= c.High
}

func (c Calibration) String() string {
	return fmt.Sprintf("one in %d: want %.4f, measured %.4f ± %.4f over %d trials, 99%% interval [%.4f, %.4f]",
		c.OneIn, c.Want, c.Mean, c.StdDev, c.Trials, c.Low, c.High)
}

// calibrationBatches is the number of batches a calibration is split into.
const calibrationBatches = 20

// Calibrate makes n weak compare-exchange attempts whose comparison
// succeeds on a VM configured with one spurious failure in oneIn, and
// measures the failure rate.
func Calibrate(n, oneIn int, seed uint64) (Calibration, error) {
	if oneIn <= 0 {
		return Calibration{}, fmt.Errorf("sweep: one-in %d must be positive", oneIn)
	}
	if n < calibrationBatches*2 {
		return Calibration{}, fmt.Errorf("sweep: need at least %d trials, got %d", calibrationBatches*2, n)
	}

	vm, err := cppvm.New(cppvm.Config{
		Seed:                 seed,
		SpuriousFailureOneIn: oneIn,
		Perturbation:         cppvm.Perturbation{Disabled: true},
		Output:               io.Discard,
		Logger:               slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		return Calibration{}, err
	}
	a, err := cppvm.NewAtomic[uint32](vm, "calibrate", 0)
	if err != nil {
		return Calibration{}, err
	}
	defer a.Destroy()

	t := vm.Main()
	per := n / calibrationBatches
	rates := make([]float64, calibrationBatches)
	for b := range rates {
		failures := 0
		for range per {
			if t.AtomicCompareExchangeWeakFalsePositive(a.Handle()) {
				failures++
			}
		}
		rates[b] = float64(failures) / float64(per)
	}

	c := Calibration{
		OneIn:   oneIn,
		Want:    1 / float64(oneIn),
		Trials:  per * calibrationBatches,
		Batches: calibrationBatches,
		Mean:    stats.Mean(rates),
		StdDev:  stats.StdDev(rates),
	}
	z := stats.NormalDist{Mu: 0, Sigma: 1}.InvCDF(0.995)
	half := z * c.StdDev / math.Sqrt(float64(calibrationBatches))
	c.Low, c.High = c.Mean-half, c.Mean+half
	return c, nil
}
