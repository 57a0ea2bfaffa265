package backoff

import (
	"testing"
	"time"
)

func TestCalculator(t *testing.T) {
	calc := NewCalculator(ExponentialJitterStrategy{})

	result := calc.Calculate(1, 100*time.Millisecond, 5*time.Second, 2.0, 0.0)
	expected := 200 * time.Millisecond
	if result != expected {
		t.Errorf("Calculate(1) = %v, want %v", result, expected)
	}
}

func TestGetExponentialJitterCalculator(t *testing.T) {
	calc := GetExponentialJitterCalculator()
	if calc == nil {
		t.Fatal("GetExponentialJitterCalculator() returned nil")
	}

	result := calc.Calculate(2, 100*time.Millisecond, 5*time.Second, 2.0, 0.0)
	if result != 400*time.Millisecond {
		t.Errorf("Calculate(2) = %v, want 400ms", result)
	}
}

func TestGetDecorrelatedJitterCalculator(t *testing.T) {
	calc := GetDecorrelatedJitterCalculator()
	if calc == nil {
		t.Fatal("GetDecorrelatedJitterCalculator() returned nil")
	}

	result := calc.Calculate(0, 100*time.Millisecond, 5*time.Second, 2.0, 0.0)
	if result != 100*time.Millisecond {
		t.Errorf("Calculate(0) = %v, want exactly the initial backoff", result)
	}
}

func BenchmarkCalculatorExponential(b *testing.B) {
	calc := GetExponentialJitterCalculator()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		calc.Calculate(i%10, 100*time.Millisecond, 5*time.Second, 2.0, 0.1)
	}
}
