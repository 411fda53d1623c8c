package httpapi

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Fetching a page marks only that page's peer messages read, never the
// requester's own and never messages outside the page.
func TestPeerMessageIDsCoversOnlyFetchedPeerMessages(t *testing.T) {
	me := uuid.New()
	peer := uuid.New()

	peerMsg1 := uuid.New()
	peerMsg2 := uuid.New()
	ownMsg := uuid.New()

	page := []messageDTO{
		{ID: peerMsg1.String(), SenderID: peer.String()},
		{ID: ownMsg.String(), SenderID: me.String()},
		{ID: peerMsg2.String(), SenderID: peer.String()},
	}

	got := peerMessageIDs(page, me)
	require.Len(t, got, 2)
	assert.Equal(t, []uuid.UUID{peerMsg1, peerMsg2}, got)
}

func TestPeerMessageIDsEmptyPage(t *testing.T) {
	assert.Empty(t, peerMessageIDs(nil, uuid.New()))

	me := uuid.New()
	onlyMine := []messageDTO{
		{ID: uuid.New().String(), SenderID: me.String()},
		{ID: uuid.New().String(), SenderID: me.String()},
	}
	assert.Empty(t, peerMessageIDs(onlyMine, me))
}
