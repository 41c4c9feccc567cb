package evm

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
)

func Test_Selector(t *testing.T) {
	t.Run("Should extract the selector from call input", func(t *testing.T) {
		input := CallInput{0x38, 0xed, 0x17, 0x39, 0xaa, 0xbb}

		selector, ok := input.Selector()

		assert.True(t, ok)
		assert.Equal(t, "0x38ed1739", selector.String())
		assert.Equal(t, []byte{0xaa, 0xbb}, input.Arguments())
	})
	t.Run("Should not extract a selector from short input", func(t *testing.T) {
		input := CallInput{0x38, 0xed}

		_, ok := input.Selector()

		assert.False(t, ok)
		assert.Nil(t, input.Arguments())
	})
	t.Run("Should not extract a selector from empty input", func(t *testing.T) {
		input := CallInput{}

		_, ok := input.Selector()

		assert.False(t, ok)
	})
}

func Test_EventLog_Topic0(t *testing.T) {
	t.Run("Should return the first topic", func(t *testing.T) {
		log := EventLog{
			Topics: []common.Hash{common.HexToHash("0x01"), common.HexToHash("0x02")},
		}

		topic, ok := log.Topic0()

		assert.True(t, ok)
		assert.Equal(t, common.HexToHash("0x01"), topic)
	})
	t.Run("Should report missing topics", func(t *testing.T) {
		log := EventLog{}

		_, ok := log.Topic0()

		assert.False(t, ok)
	})
}
