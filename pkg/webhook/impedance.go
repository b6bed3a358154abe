package webhook

import (
	"io"
	"log/slog"
	"math"

	"github.com/kacperjurak/goimpfit"
	"github.com/kacperjurak/goimpfit/pkg/models"
)

// Calculator evaluates the impedance of each element of a fitted circuit.
type Calculator struct {
	logger *slog.Logger
}

// NewCalculator creates a new impedance calculator
func NewCalculator(logger *slog.Logger) *Calculator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Calculator{logger: logger}
}

// CalculateElementImpedances returns one trace per element, in circuit order.
func (c *Calculator) CalculateElementImpedances(circuit *goimpfit.Circuit, frequencies, parameters []float64) ([]models.ElementImpedance, error) {
	traces, err := circuit.ElementImpedances(parameters, frequencies)
	if err != nil {
		return nil, err
	}

	elements := circuit.Elements()
	result := make([]models.ElementImpedance, 0, len(elements))
	for _, e := range elements {
		z := traces[e.Label()]
		impedances := make([]map[string]float64, len(z))
		for i, v := range z {
			re, im := c.sanitizeImpedance(v, e.Label(), frequencies[i])
			impedances[i] = map[string]float64{"real": re, "imag": im}
		}
		result = append(result, models.ElementImpedance{
			Name:       e.Label(),
			Impedances: impedances,
		})
	}
	return result, nil
}

// sanitizeImpedance handles NaN, Inf values for JSON compatibility
func (c *Calculator) sanitizeImpedance(impedance complex128, element string, freq float64) (float64, float64) {
	realPart := real(impedance)
	imagPart := imag(impedance)

	if math.IsNaN(realPart) || math.IsInf(realPart, 0) {
		c.logger.Warn("invalid real impedance", "element", element, "freq", freq, "value", realPart)
		realPart = 0.0
	}
	if math.IsNaN(imagPart) || math.IsInf(imagPart, 0) {
		c.logger.Warn("invalid imaginary impedance", "element", element, "freq", freq, "value", imagPart)
		imagPart = 0.0
	}
	return realPart, imagPart
}
