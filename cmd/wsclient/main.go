// Command wsclient dumps the frames a room server sends, optionally after
// joining a room.
//
// Usage: go run ./cmd/wsclient [-room CODE -username NAME -password PW] [ws://127.0.0.1:7070/ws]
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"

	"github.com/codetogether/roomsync/internal/protocol"
)

func main() {
	roomCode := flag.String("room", "", "Room code to join")
	username := flag.String("username", "wsclient", "Username for the join")
	password := flag.String("password", "", "Room password")
	flag.Parse()

	url := "ws://127.0.0.1:7070/ws"
	if flag.NArg() > 0 {
		url = flag.Arg(0)
	}

	fmt.Printf("Connecting to %s...\n", url)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	if *roomCode != "" {
		data, err := protocol.NewJoinRoomRequest(*roomCode, *username, *password).Encode()
		if err == nil {
			err = conn.WriteMessage(websocket.TextMessage, data)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to send join-room: %v\n", err)
			os.Exit(1)
		}
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	done := make(chan struct{})
	messageCount := 0

	go func() {
		defer close(done)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					fmt.Printf("Read error: %v\n", err)
				}
				return
			}
			messageCount++

			msg, err := protocol.Decode(data, protocol.FromServer)
			if err != nil {
				fmt.Printf("[%d] undecodable (%v): %s\n", messageCount, err, data)
				continue
			}
			fmt.Printf("[%d] type=%s", messageCount, msg.Type)
			if msg.ReplyTo != "" {
				fmt.Printf(" replyTo=%s", msg.ReplyTo)
			}
			if msg.Payload != nil {
				payload, _ := json.Marshal(msg.Payload)
				fmt.Printf(" payload=%s", payload)
			}
			fmt.Println()
		}
	}()

	select {
	case <-done:
		fmt.Println("Connection closed")
	case <-interrupt:
		fmt.Println("Interrupted")
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		select {
		case <-done:
		case <-time.After(time.Second):
		}
	}

	fmt.Printf("Total messages received: %d\n", messageCount)
}
