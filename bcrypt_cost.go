//go:build !race

package grants

func secretHashCost() int {
	return 12
}
