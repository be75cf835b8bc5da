package p2pinmemory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-escrow/internal/core/domain"
	"github.com/tdex-network/tdex-escrow/internal/core/ports"
)

var (
	// ErrPeerOffline is returned when sending a direct message to a node
	// that is not online.
	ErrPeerOffline = errors.New("peer is offline")
	// ErrUnknownPeer is returned when sending to an address not registered
	// in the network.
	ErrUnknownPeer = errors.New("unknown peer")
	// ErrReceiverKeyMismatch is returned when the receiver keys don't match
	// the ones of the node listening at the receiver address.
	ErrReceiverKeyMismatch = errors.New("receiver keys mismatch")
	// ErrNetworkClosed is returned when sending over a closed network.
	ErrNetworkClosed = errors.New("network closed")
	// ErrMessageLost is returned when the drop filter of the network
	// discards the message.
	ErrMessageLost = errors.New("message lost")
)

// DropFilter reports whether a message from one node to another is lost.
type DropFilter func(from, to domain.NodeAddress, msg domain.Message) bool

const linkQueueSize = 1024

type linkKey struct {
	from, to domain.NodeAddress
}

type sentKey struct {
	from, to domain.NodeAddress
	msgType  domain.MessageType
}

type delivery struct {
	sender  domain.NodeAddress
	payload []byte
}

// Network connects in-process nodes. Messages between two nodes are
// delivered in order by a dedicated worker, so that the handler of the
// receiver never runs on the goroutine of the sender.
type Network struct {
	lock   sync.RWMutex
	nodes  map[domain.NodeAddress]*Node
	links  map[linkKey]chan delivery
	sent   map[sentKey]int
	drop   DropFilter
	closed bool
	wg     sync.WaitGroup
}

// NewNetwork returns an empty network.
func NewNetwork() *Network {
	return &Network{
		nodes: make(map[domain.NodeAddress]*Node),
		links: make(map[linkKey]chan delivery),
		sent:  make(map[sentKey]int),
	}
}

// AddNode registers a new online node listening at the given address.
func (n *Network) AddNode(
	addr domain.NodeAddress, keys domain.PubKeyRing,
) (*Node, error) {
	n.lock.Lock()
	defer n.lock.Unlock()

	if n.closed {
		return nil, ErrNetworkClosed
	}
	if _, ok := n.nodes[addr]; ok {
		return nil, fmt.Errorf("node %s already registered", addr)
	}
	node := &Node{
		network: n,
		addr:    addr,
		keys:    keys,
		online:  true,
		mailbox: make(map[string]mailboxEntry),
	}
	n.nodes[addr] = node
	return node, nil
}

// SetOnline switches the node at the given address on or off. Messages
// already queued for an offline node are still delivered.
func (n *Network) SetOnline(addr domain.NodeAddress, online bool) error {
	n.lock.RLock()
	node, ok := n.nodes[addr]
	n.lock.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, addr)
	}

	node.lock.Lock()
	node.online = online
	node.lock.Unlock()
	return nil
}

// SetDropFilter makes the network lose the messages matching the filter.
// A nil filter delivers everything.
func (n *Network) SetDropFilter(filter DropFilter) {
	n.lock.Lock()
	defer n.lock.Unlock()
	n.drop = filter
}

// SentCount returns how many messages of the given type were sent from one
// node to another, whether delivered directly or stored in the mailbox.
func (n *Network) SentCount(
	from, to domain.NodeAddress, msgType domain.MessageType,
) int {
	n.lock.RLock()
	defer n.lock.RUnlock()
	return n.sent[sentKey{from, to, msgType}]
}

// Close stops every link worker once the queued messages are delivered.
func (n *Network) Close() {
	n.lock.Lock()
	if n.closed {
		n.lock.Unlock()
		return
	}
	n.closed = true
	for _, ch := range n.links {
		close(ch)
	}
	n.lock.Unlock()

	n.wg.Wait()
}

// send routes the message to the receiver. It returns whether the message
// was queued for direct delivery, false if it was stored in the mailbox.
func (n *Network) send(
	from *Node, to domain.NodeAddress, keys domain.PubKeyRing,
	msg domain.Message, allowMailbox bool,
) (bool, error) {
	payload, err := domain.EncodeMessage(msg)
	if err != nil {
		return false, err
	}

	n.lock.Lock()
	defer n.lock.Unlock()

	if n.closed {
		return false, ErrNetworkClosed
	}
	receiver, ok := n.nodes[to]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownPeer, to)
	}
	if !keys.IsEmpty() && !keys.Equal(receiver.keys) {
		return false, fmt.Errorf("%w: %s", ErrReceiverKeyMismatch, to)
	}
	if n.drop != nil && n.drop(from.addr, to, msg) {
		return false, fmt.Errorf("%w: %s to %s", ErrMessageLost, msg.Type(), to)
	}

	if !receiver.isOnline() {
		if !allowMailbox {
			return false, fmt.Errorf("%w: %s", ErrPeerOffline, to)
		}
		n.sent[sentKey{from.addr, to, msg.Type()}]++
		receiver.store(from.addr, msg.Info().UID, payload)
		return false, nil
	}

	n.sent[sentKey{from.addr, to, msg.Type()}]++
	n.linkTo(from.addr, to) <- delivery{from.addr, payload}
	return true, nil
}

// linkTo returns the queue of the link between two nodes, starting its
// worker the first time. Must be called with the network lock held.
func (n *Network) linkTo(from, to domain.NodeAddress) chan delivery {
	key := linkKey{from, to}
	if ch, ok := n.links[key]; ok {
		return ch
	}

	ch := make(chan delivery, linkQueueSize)
	n.links[key] = ch
	receiver := n.nodes[to]

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		for d := range ch {
			receiver.deliver(d)
		}
	}()
	return ch
}

// Node is the endpoint of a single node of the network and implements
// the P2PService port.
type Node struct {
	network *Network
	addr    domain.NodeAddress
	keys    domain.PubKeyRing

	lock    sync.RWMutex
	online  bool
	handler ports.MessageHandler
	mailbox map[string]mailboxEntry
	seq     uint64
}

type mailboxEntry struct {
	seq     uint64
	uid     string
	sender  domain.NodeAddress
	payload []byte
}

func (n *Node) Address() domain.NodeAddress {
	return n.addr
}

func (n *Node) SetMessageHandler(handler ports.MessageHandler) {
	n.lock.Lock()
	defer n.lock.Unlock()
	n.handler = handler
}

func (n *Node) SendDirect(
	_ context.Context, receiver domain.NodeAddress,
	receiverKeys domain.PubKeyRing, msg domain.Message,
	listener ports.SendListener,
) {
	if _, err := n.network.send(n, receiver, receiverKeys, msg, false); err != nil {
		log.WithError(err).Debugf("p2p: failed to send %s to %s", msg.Type(), receiver)
		notifyFault(listener, err)
		return
	}
	notify(listener.OnArrived)
}

func (n *Node) SendMailbox(
	_ context.Context, receiver domain.NodeAddress,
	receiverKeys domain.PubKeyRing, msg domain.Message,
	listener ports.SendListener,
) {
	arrived, err := n.network.send(n, receiver, receiverKeys, msg, true)
	if err != nil {
		log.WithError(err).Debugf("p2p: failed to send %s to %s", msg.Type(), receiver)
		notifyFault(listener, err)
		return
	}
	if arrived {
		notify(listener.OnArrived)
		return
	}
	log.Debugf("p2p: %s for %s stored in mailbox", msg.Type(), receiver)
	notify(listener.OnStoredInMailbox)
}

func (n *Node) MailboxItems(_ context.Context) ([]domain.MailboxItem, error) {
	n.lock.RLock()
	entries := make([]mailboxEntry, 0, len(n.mailbox))
	for _, entry := range n.mailbox {
		entries = append(entries, entry)
	}
	n.lock.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].seq < entries[j].seq
	})

	items := make([]domain.MailboxItem, 0, len(entries))
	for _, entry := range entries {
		msg, err := domain.DecodeMessage(entry.payload)
		if err != nil {
			log.WithError(err).Warnf("p2p: dropping malformed mailbox item %s", entry.uid)
			continue
		}
		items = append(items, domain.MailboxItem{
			UID:     entry.uid,
			Sender:  entry.sender,
			Message: msg,
		})
	}
	return items, nil
}

func (n *Node) RemoveMailboxItem(_ context.Context, uid string) error {
	n.lock.Lock()
	defer n.lock.Unlock()
	delete(n.mailbox, uid)
	return nil
}

func (n *Node) isOnline() bool {
	n.lock.RLock()
	defer n.lock.RUnlock()
	return n.online
}

// store saves the message in the mailbox. A message with the same uid
// replaces the previous one.
func (n *Node) store(sender domain.NodeAddress, uid string, payload []byte) {
	n.lock.Lock()
	defer n.lock.Unlock()

	n.seq++
	n.mailbox[uid] = mailboxEntry{n.seq, uid, sender, payload}
}

func (n *Node) deliver(d delivery) {
	n.lock.RLock()
	handler := n.handler
	n.lock.RUnlock()

	if handler == nil {
		log.Warnf("p2p: %s has no message handler, dropping message", n.addr)
		return
	}
	msg, err := domain.DecodeMessage(d.payload)
	if err != nil {
		log.WithError(err).Warnf("p2p: dropping malformed message from %s", d.sender)
		return
	}
	handler(context.Background(), msg, d.sender)
}

func notify(cb func()) {
	if cb != nil {
		go cb()
	}
}

func notifyFault(listener ports.SendListener, err error) {
	if listener.OnFault != nil {
		go listener.OnFault(err)
	}
}
