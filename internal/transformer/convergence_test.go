package transformer

import (
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	"parley/internal/models"
	"parley/internal/testutil"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// messageSnapshot is the order independent view of a stored message.
type messageSnapshot struct {
	StanzaID     string
	MessageID    string
	Sender       string
	Modification models.Modification
	Body         string
	Reactions    []string
	States       []string
	ReplyTo      string
	ReplyBody    string
}

func snapshot(t *testing.T, f *fixture, address string) []messageSnapshot {
	t.Helper()
	messages := f.messages(t, address)
	byID := make(map[uint]string, len(messages))
	for _, m := range messages {
		byID[m.ID] = m.StanzaID + "/" + m.MessageID
	}

	snapshots := make([]messageSnapshot, 0, len(messages))
	for _, m := range messages {
		s := messageSnapshot{
			StanzaID:     m.StanzaID,
			MessageID:    m.MessageID,
			Sender:       m.SenderIdentity(),
			Modification: m.Modification,
			Body:         m.TextBody(),
			ReplyBody:    m.InReplyToBody,
		}
		for _, r := range m.Reactions {
			s.Reactions = append(s.Reactions, r.ByIdentity+":"+r.Emoji)
		}
		for _, st := range m.States {
			s.States = append(s.States, st.ByIdentity+":"+string(st.Kind))
		}
		sort.Strings(s.Reactions)
		sort.Strings(s.States)
		if m.InReplyToID != nil {
			s.ReplyTo = byID[*m.InReplyToID]
		}
		snapshots = append(snapshots, s)
	}
	sort.Slice(snapshots, func(i, j int) bool { return snapshots[i].StanzaID < snapshots[j].StanzaID })
	return snapshots
}

func roomConversation() []*testutil.StanzaBuilder {
	at := func(sec int) time.Time { return baseTime.Add(time.Duration(sec) * time.Second) }
	return []*testutil.StanzaBuilder{
		inRoom("user-a", "m1", "a").Delay(at(10)).Body("Please give me a thums up"),
		inRoom("user-a", "m2", "b").Replace("m1").Delay(at(20)).Body("Please give me a thumb up"),
		inRoom("user-a", "m3", "c").Replace("m1").Delay(at(30)).Body("Please give me a thumbs up"),
		inRoom("user-b", "r1", "d").Delay(at(40)).Reactions("a", "Y"),
		inRoom("user-c", "r2", "e").Delay(at(41)).Reactions("a", "Y", "Z"),
		inRoom("user-b", "d1", "f").Delay(at(42)).Displayed("a"),
		inRoom("user-c", "m4", "g").Delay(at(50)).Reply(room+"/user-a", "a", "Please give me a thums up").Body("Done"),
		inRoom("user-x", "x1", "h").Delay(at(60)).Retract("a"),
		inRoom("user-x", "x2", "i").Delay(at(61)).Replace("m1").Body("Please give me nothing"),
	}
}

func directConversation() []*testutil.StanzaBuilder {
	at := func(sec int) time.Time { return baseTime.Add(time.Duration(sec) * time.Second) }
	return []*testutil.StanzaBuilder{
		toJuliet("m1").Delay(at(10)).Body(greeting).StanzaID("s1", accountAddress),
		toJuliet("m2").Delay(at(20)).Replace("m1").Body("Hi Juliet. How art thou?").StanzaID("s2", accountAddress),
		fromJuliet("r1").Delay(at(30)).Reactions("m1", "Y").StanzaID("s3", accountAddress),
		fromJuliet("r2").Delay(at(31)).Reactions("m1", "N").StanzaID("s4", accountAddress),
		fromJuliet("d1").Delay(at(32)).Received("m1").StanzaID("s5", accountAddress),
		fromJuliet("m3").Delay(at(40)).Reply(accountAddress, "m1", greeting).Body("Well, thank you").StanzaID("s6", accountAddress),
		fromJuliet("m4").Delay(at(50)).Body("It is raining outside").StanzaID("s7", accountAddress),
		fromJuliet("m5").Delay(at(60)).Retract("m4").StanzaID("s8", accountAddress),
		fromJuliet("x1").Delay(at(70)).Replace("m1").Body("Hi Romeo").StanzaID("s9", accountAddress),
	}
}

// Reaction sets replace each other, so the last one applied wins. Keep the
// permutations from reordering stanzas of the same identity that replace
// each other.
func keepsReactionOrder(order []int, replacing ...int) bool {
	pos := make(map[int]int, len(order))
	for i, idx := range order {
		pos[idx] = i
	}
	for i := 1; i < len(replacing); i++ {
		if pos[replacing[i-1]] > pos[replacing[i]] {
			return false
		}
	}
	return true
}

func TestTransform_OrderIndependence(t *testing.T) {
	tests := []struct {
		name         string
		address      string
		conversation func() []*testutil.StanzaBuilder
		replacing    []int
	}{
		{"Room", room, roomConversation, nil},
		{"Direct", juliet, directConversation, []int{2, 3}},
	}

	faker := gofakeit.New(20240301)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stanzas := tt.conversation()
			inOrder := make([]int, len(stanzas))
			for i := range inOrder {
				inOrder[i] = i
			}
			reversed := make([]int, len(stanzas))
			for i := range reversed {
				reversed[i] = len(stanzas) - 1 - i
			}

			orders := [][]int{inOrder}
			if keepsReactionOrder(reversed, tt.replacing...) {
				orders = append(orders, reversed)
			}
			for len(orders) < 24 {
				order := append([]int(nil), inOrder...)
				faker.ShuffleAnySlice(order)
				if keepsReactionOrder(order, tt.replacing...) {
					orders = append(orders, order)
				}
			}

			var want []messageSnapshot
			for i, order := range orders {
				name := strings.Trim(strings.Join(strings.Fields(fmt.Sprint(order)), ","), "[]")
				t.Run(name, func(t *testing.T) {
					f := newFixture(t)
					firstStub := uint(0)
					for _, idx := range order {
						f.live(t, stanzas[idx])
						if firstStub == 0 && f.rows(t, &models.Message{}) > 0 {
							firstStub = f.firstMessageID(t)
						}
					}

					got := snapshot(t, f, tt.address)
					if i == 0 {
						want = got
						return
					}
					assert.Equal(t, want, got)

					// user-x only references messages it did not write, so
					// its own lookups may leave placeholders behind.
					var stubs int64
					require.NoError(t, f.store.DB().Model(&models.Message{}).
						Where("stub = ? AND occupant_id <> ?", true, "occ-user-x").Count(&stubs).Error)
					assert.Zero(t, stubs, "every forward reference resolves to a real message")

					var foreign int64
					require.NoError(t, f.store.DB().Model(&models.MessageContent{}).
						Joins("JOIN message_versions v ON v.id = message_contents.version_id").
						Joins("JOIN messages m ON m.id = v.message_id").
						Where("m.stub = ? AND message_contents.body IN ?", false, []string{"Please give me nothing", "Hi Romeo"}).
						Count(&foreign).Error)
					assert.Zero(t, foreign, "corrections by someone other than the author are discarded")
					assert.Equal(t, firstStub, f.firstMessageID(t), "the first row keeps its id")
				})
			}
		})
	}
}

func TestTransform_ConvergedState(t *testing.T) {
	f := newFixture(t)
	for _, b := range roomConversation() {
		f.live(t, b)
	}

	got := snapshot(t, f, room)
	require.Len(t, got, 2)
	assert.Equal(t, messageSnapshot{
		StanzaID:     "a",
		MessageID:    "m1",
		Sender:       "occ-user-a",
		Modification: models.ModificationCorrection,
		Body:         "Please give me a thumbs up",
		Reactions:    []string{"occ-user-b:Y", "occ-user-c:Y", "occ-user-c:Z"},
		States:       []string{"occ-user-b:DISPLAYED"},
	}, got[0])
	assert.Equal(t, "Done", got[1].Body)
	assert.Equal(t, "a/m1", got[1].ReplyTo)
	assert.Equal(t, "Please give me a thumbs up", got[1].ReplyBody)
}
