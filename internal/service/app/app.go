package app

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"enigma/internal/model"
	"enigma/internal/protocol/x3dh"
	"enigma/internal/repository/account"
	"enigma/internal/repository/kv"
	"enigma/internal/utils/log"

	"github.com/gdamore/tcell/v2"
	"github.com/gorilla/websocket"
	"github.com/rivo/tview"
	"go.uber.org/zap"
)

type (
	App struct {
		app     *tview.Application
		chatbox *tview.TextView
		input   *tview.InputField

		api      *apiClient
		accounts *account.AccountRepo
		store    kv.Store
		rand     io.Reader

		account *model.Account
		chat    *Chat

		conn    *websocket.Conn
		writeMu sync.Mutex
	}
)

// NewApp builds a client over store. A non-empty passphrase keeps the local
// account sealed at rest.
func NewApp(store kv.Store, serverURL, passphrase string) (*App, error) {
	api, err := newAPIClient(serverURL, nil)
	if err != nil {
		return nil, err
	}
	return &App{
		app:      tview.NewApplication(),
		api:      api,
		accounts: account.NewAccountRepo(store).WithPassphrase(passphrase),
		store:    store,
		rand:     rand.Reader,
	}, nil
}

func (c *App) Run(ctx context.Context, name string) error {
	acc, err := c.getAccountAndCreateIfNotExist(ctx, name)
	if err != nil {
		return fmt.Errorf("get account: %w", err)
	}
	c.account = acc

	var toName string
	fmt.Print("Enter recipient's name: ")
	if _, err := fmt.Scan(&toName); err != nil { // reads until whitespace
		return err
	}

	bundle, err := c.api.getBundleOfUser(ctx, toName)
	if err != nil {
		return err
	}
	if err := x3dh.VerifyBundle(bundle); err != nil {
		return fmt.Errorf("bundle of %s: %w", toName, err)
	}
	fmt.Printf("%s's identity fingerprint: %s\n", toName, bundle.Fingerprint())

	c.conn, err = c.api.initWebhook(ctx, acc.Name)
	if err != nil {
		return fmt.Errorf("init webhook to server: %w", err)
	}
	defer c.conn.Close()

	c.chat = NewChat(acc, toName, bundle, c.store, c.rand, c.writeMessage)

	go c.listenOnWebhook(ctx)
	return c.renderUI()
}

func (c *App) Stop() {
	c.app.Stop()
}

func (c *App) writeMessage(m *model.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(m)
}

// blocking function
func (c *App) renderUI() error {
	c.chatbox = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	c.chatbox.SetBorder(true).SetTitle(fmt.Sprintf(" Chat with %s ", c.chat.Peer()))

	c.input = tview.NewInputField().
		SetLabel("Message: ").
		SetFieldWidth(0)
	c.input.SetBorder(true).SetTitle(" New Message ")

	c.input.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		text := c.input.GetText()
		if text == "" {
			return
		}
		c.input.SetText("")

		go func(msg string) {
			if err := c.chat.SendMessage(context.Background(), msg); err != nil {
				log.Error("Send message failed", zap.Error(err))
				c.printf("[red]not sent:[-] %s\n", tview.Escape(err.Error()))
				return
			}
			c.printf("[yellow]You:[-] %s\n", tview.Escape(msg))
		}(text)
	})

	layout := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(c.chatbox, 0, 1, false).
		AddItem(c.input, 3, 0, true)

	return c.app.SetRoot(layout, true).SetFocus(c.input).Run()
}

func (c *App) printf(format string, args ...any) {
	c.app.QueueUpdateDraw(func() {
		fmt.Fprintf(c.chatbox, format, args...)
		c.chatbox.ScrollToEnd()
	})
}

func (c *App) listenOnWebhook(ctx context.Context) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			log.Debug("worker web socket closed", zap.Error(err))
			c.printf("[red]disconnected from server[-]\n")
			return
		}

		var message model.Message
		if err := json.Unmarshal(data, &message); err != nil {
			log.Error("Unmarshal message failed", zap.Error(err))
			continue
		}

		plain, err := c.chat.ReceiveMessage(ctx, &message)
		if err != nil {
			log.Error("receive message failed", zap.String("from", message.From), zap.Error(err))
			continue
		}
		c.printf("[green]%s:[-] %s\n", tview.Escape(message.From), tview.Escape(string(plain)))
	}
}
