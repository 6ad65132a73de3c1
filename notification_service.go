package main

import (
	"fmt"
	"io/ioutil"
	"log"
	"os"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const chatIDFile = "chat_id.txt"

// NotificationService handles sending operator alerts to Telegram
type NotificationService struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewNotificationService initializes the Telegram bot
func NewNotificationService() *NotificationService {
	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		log.Println("⚠️ TELEGRAM_BOT_TOKEN not found. Notifications disabled.")
		return nil
	}

	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		log.Printf("⚠️ Failed to init Telegram Bot: %v", err)
		return nil
	}

	log.Printf("✅ Authorized on account %s", bot.Self.UserName)

	// User Chat ID (Optional - if not set, we can sniff it from updates)
	chatIDStr := os.Getenv("TELEGRAM_CHAT_ID")
	var chatID int64
	if chatIDStr != "" {
		chatID, _ = strconv.ParseInt(chatIDStr, 10, 64)
	}

	ns := &NotificationService{
		bot:    bot,
		chatID: chatID,
	}

	// If no Chat ID, try loading from file
	if chatID == 0 {
		chatID = ns.loadChatID()
		ns.chatID = chatID
	}

	if chatID != 0 {
		log.Printf("✅ Loaded Persistent Chat ID: %d", chatID)
	}

	return ns
}

// loadChatID reads the saved ID from file
func (ns *NotificationService) loadChatID() int64 {
	data, err := ioutil.ReadFile(chatIDFile)
	if err != nil {
		return 0
	}

	id, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// saveChatID writes ID to file
func (ns *NotificationService) saveChatID(id int64) {
	err := ioutil.WriteFile(chatIDFile, []byte(fmt.Sprintf("%d", id)), 0644)
	if err != nil {
		log.Printf("⚠️ Failed to save Chat ID: %v", err)
	} else {
		log.Println("💾 Chat ID Saved Persistently.")
	}
}

// StartEventListener polls updates for operator commands
func (ns *NotificationService) StartEventListener(statusCallback func() string, reportCallback func() string, reconnectCallback func()) {
	log.Println("📢 TELEGRAM: Listening for events...")
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := ns.bot.GetUpdatesChan(u)

	for update := range updates {
		if update.Message == nil {
			continue
		}

		// Auto-Configure Chat ID
		if ns.chatID == 0 {
			ns.chatID = update.Message.Chat.ID
			log.Printf("✅ TELEGRAM CHAT ID DETECTED: %d", ns.chatID)
			ns.Notify("🔔 Bot Connected! Notifications enabled.")
		}

		if !update.Message.IsCommand() {
			continue
		}

		switch update.Message.Command() {
		case "start":
			if ns.chatID == 0 || ns.chatID != update.Message.Chat.ID {
				ns.chatID = update.Message.Chat.ID
				ns.saveChatID(ns.chatID)
				log.Printf("✅ TELEGRAM CHAT ID CAPTURED & SAVED: %d", ns.chatID)
			}
			ns.Notify("🚀 *Connection established!*\nI will relay agent trades and gateway alerts here.")
		case "status":
			if statusCallback != nil {
				ns.Notify(statusCallback())
			}
		case "report":
			if reportCallback != nil {
				ns.Notify(reportCallback())
			}
		case "reconnect":
			ns.Notify("🎯 Forcing agent feed reconnect...")
			if reconnectCallback != nil {
				reconnectCallback()
			}
		}
	}
}

// Notify sends a message asynchronously
func (ns *NotificationService) Notify(msg string) {
	if ns == nil || ns.bot == nil || ns.chatID == 0 {
		return
	}

	// Fire and forget
	go func() {
		msgConfig := tgbotapi.NewMessage(ns.chatID, msg)
		msgConfig.ParseMode = "Markdown"
		_, err := ns.bot.Send(msgConfig)
		if err != nil {
			log.Printf("⚠️ Failed to send Telegram: %v", err)
		}
	}()
}
