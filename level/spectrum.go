package level

import "gonum.org/v1/gonum/dsp/fourier"

// spectrum computes frame power from the real FFT. Bins are weighted so the
// result equals the time-domain mean square (Parseval), which keeps both
// estimator modes on the same scale.
type spectrum struct {
	fft   *fourier.FFT
	n     int
	coeff []complex128
}

func (s *spectrum) meanSquare(samples []float64) float64 {
	n := len(samples)
	if n < 2 {
		return meanSquare(samples)
	}
	if s.fft == nil || s.n != n {
		s.fft = fourier.NewFFT(n)
		s.n = n
		s.coeff = make([]complex128, n/2+1)
	}
	s.coeff = s.fft.Coefficients(s.coeff, samples)

	var sum float64
	for k, c := range s.coeff {
		mag := real(c)*real(c) + imag(c)*imag(c)
		if k == 0 || (n%2 == 0 && k == n/2) {
			sum += mag
		} else {
			sum += 2 * mag
		}
	}
	return sum / float64(n*n)
}
