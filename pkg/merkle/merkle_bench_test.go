package merkle

import (
	"fmt"
	"testing"
)

// BenchmarkBalanceTreeBuild benchmarks tree construction with various sizes
func BenchmarkBalanceTreeBuild(b *testing.B) {
	sizes := []int{10, 100, 1000, 10000}

	for _, size := range sizes {
		b.Run(fmt.Sprintf("Entries_%d", size), func(b *testing.B) {
			entries := createTestEntries(size)
			b.ResetTimer()

			for i := 0; i < b.N; i++ {
				_, _ = NewBalanceTree(entries)
			}
		})
	}
}

// BenchmarkProofGeneration benchmarks proof generation
func BenchmarkProofGeneration(b *testing.B) {
	sizes := []int{10, 100, 1000, 10000}

	for _, size := range sizes {
		entries := createTestEntries(size)
		tree, _ := NewBalanceTree(entries)

		b.Run(fmt.Sprintf("Entries_%d", size), func(b *testing.B) {
			b.ResetTimer()

			for i := 0; i < b.N; i++ {
				e := entries[i%size]
				_, _ = tree.GetProof(uint64(i%size), e.Account, e.Amount)
			}
		})
	}
}

// BenchmarkProofVerification benchmarks proof verification
func BenchmarkProofVerification(b *testing.B) {
	sizes := []int{10, 100, 1000, 10000}

	for _, size := range sizes {
		entries := createTestEntries(size)
		tree, _ := NewBalanceTree(entries)
		root := tree.Root()
		e := entries[size/2]
		proof, _ := tree.GetProof(uint64(size/2), e.Account, e.Amount)

		b.Run(fmt.Sprintf("Entries_%d", size), func(b *testing.B) {
			b.ResetTimer()

			for i := 0; i < b.N; i++ {
				_ = VerifyProof(root, uint64(size/2), e.Account, e.Amount, proof)
			}
		})
	}
}
