package ethereum

// BlockRange is an inclusive range of blocks
type BlockRange struct {
	From uint64
	To   uint64
}

// SplitBlockRange splits [fromBlock, toBlock] into lots of at most lotSize blocks
func SplitBlockRange(fromBlock, toBlock, lotSize uint64) []BlockRange {
	if fromBlock > toBlock || lotSize == 0 {
		return nil
	}

	var ranges []BlockRange
	for current := fromBlock; current <= toBlock; current += lotSize {
		end := current + lotSize - 1
		if end > toBlock || end < current {
			end = toBlock
		}
		ranges = append(ranges, BlockRange{From: current, To: end})
		if end == toBlock {
			break
		}
	}

	return ranges
}
