package seed

import (
	"fmt"
	"strings"
	"time"

	"parley/internal/stanza"

	"github.com/brianvoe/gofakeit/v6"
)

// Options shape a generated scenario.
type Options struct {
	// Account defaults to a random address.
	Account string
	// Peers is the number of 1:1 contacts.
	Peers int
	// Messages is the number of live stanzas.
	Messages int
	// ArchiveMessages is the size of the initial archive page. Zero skips it.
	ArchiveMessages int
	// Room adds a bookmarked group chat.
	Room bool
	// Start is the timestamp of the first archived message.
	Start time.Time
}

type sentMessage struct {
	peer     string
	id       string
	incoming bool
}

type generator struct {
	faker   *gofakeit.Faker
	account string
	peers   []string
	room    string
	nicks   []string
	next    int
	sent    []sentMessage
}

// Generate builds a random conversation. The same faker seed yields the same
// scenario.
func Generate(faker *gofakeit.Faker, opts Options) *Scenario {
	if opts.Peers <= 0 {
		opts.Peers = 1
	}
	if opts.Start.IsZero() {
		opts.Start = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	}

	g := &generator{faker: faker, account: opts.Account}
	if g.account == "" {
		g.account = g.address()
	}
	for i := 0; i < opts.Peers; i++ {
		g.peers = append(g.peers, g.address())
	}

	sc := &Scenario{Account: g.account}
	if opts.Room {
		g.room = localpart(faker.Word()) + "@conference." + domainOf(g.account)
		for i := 0; i < 3; i++ {
			g.nicks = append(g.nicks, localpart(faker.FirstName()))
		}
		sc.Bookmarks = append(sc.Bookmarks, Bookmark{
			Address:  g.room,
			Name:     faker.Word(),
			Nick:     localpart(strings.SplitN(g.account, "@", 2)[0]),
			Autojoin: true,
		})
	}

	if opts.ArchiveMessages > 0 {
		page := make([]string, 0, opts.ArchiveMessages)
		for i := 0; i < opts.ArchiveMessages; i++ {
			inner := g.chatMessage(g.peers[i%len(g.peers)], faker.Bool())
			stamp := opts.Start.Add(time.Duration(i) * time.Minute)
			page = append(page, stanza.ArchiveResultXML(g.account, "", "catchup", fmt.Sprintf("mam-%d", i+1), stamp, inner))
		}
		sc.Steps = append(sc.Steps, Step{Page: page})
	}

	for i := 0; i < opts.Messages; i++ {
		sc.Steps = append(sc.Steps, Step{Stanza: g.live().String()})
	}
	return sc
}

func (g *generator) id() string {
	g.next++
	return fmt.Sprintf("gen-%d", g.next)
}

func (g *generator) address() string {
	return localpart(g.faker.FirstName()) + "@" + g.faker.DomainName()
}

func (g *generator) live() *stanza.Builder {
	switch g.faker.Number(0, 9) {
	case 5:
		if b := g.correction(); b != nil {
			return b
		}
	case 6:
		if b := g.reaction(); b != nil {
			return b
		}
	case 7:
		if b := g.marker(); b != nil {
			return b
		}
	case 8, 9:
		if g.room != "" {
			return g.roomMessage()
		}
	}
	peer := g.peers[g.faker.Number(0, len(g.peers)-1)]
	return g.chatMessage(peer, g.faker.Bool())
}

func (g *generator) chatMessage(peer string, incoming bool) *stanza.Builder {
	id := g.id()
	g.sent = append(g.sent, sentMessage{peer: peer, id: id, incoming: incoming})
	if incoming {
		return stanza.NewBuilder(peer+"/phone", g.account, stanza.TypeChat, id).
			Body(g.faker.Sentence(g.faker.Number(3, 12))).
			RequestReceipt()
	}
	return stanza.NewBuilder(g.account+"/desktop", peer, stanza.TypeChat, id).
		Body(g.faker.Sentence(g.faker.Number(3, 12)))
}

// correction replaces the body of the last 1:1 message, sent by its author.
func (g *generator) correction() *stanza.Builder {
	if len(g.sent) == 0 {
		return nil
	}
	last := g.sent[len(g.sent)-1]
	from, to := g.account+"/desktop", last.peer
	if last.incoming {
		from, to = last.peer+"/phone", g.account
	}
	return stanza.NewBuilder(from, to, stanza.TypeChat, g.id()).
		Body(g.faker.Sentence(g.faker.Number(3, 12))).
		Replace(last.id)
}

func (g *generator) reaction() *stanza.Builder {
	if len(g.sent) == 0 {
		return nil
	}
	target := g.sent[g.faker.Number(0, len(g.sent)-1)]
	return stanza.NewBuilder(target.peer+"/phone", g.account, stanza.TypeChat, g.id()).
		Reactions(target.id, g.faker.RandomString([]string{"👍", "❤️", "😂", "🎉", "😮"}))
}

// marker acknowledges the newest outgoing message to some peer.
func (g *generator) marker() *stanza.Builder {
	for i := len(g.sent) - 1; i >= 0; i-- {
		if !g.sent[i].incoming {
			return stanza.NewBuilder(g.sent[i].peer+"/phone", g.account, stanza.TypeChat, g.id()).
				Displayed(g.sent[i].id)
		}
	}
	return nil
}

func (g *generator) roomMessage() *stanza.Builder {
	nick := g.nicks[g.faker.Number(0, len(g.nicks)-1)]
	id := g.id()
	return stanza.NewBuilder(g.room+"/"+nick, g.account, stanza.TypeGroupchat, id).
		OccupantID("occ-"+nick).
		StanzaID("room-"+id, g.room).
		Body(g.faker.Sentence(g.faker.Number(3, 12)))
}

// localpart keeps the ASCII letters and digits of s, lowercased.
func localpart(s string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			sb.WriteRune(r)
		}
	}
	if sb.Len() == 0 {
		return "user"
	}
	return sb.String()
}

func domainOf(address string) string {
	if i := strings.IndexByte(address, '@'); i >= 0 {
		return address[i+1:]
	}
	return address
}
