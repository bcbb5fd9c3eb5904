package chatcmder

import (
	"context"
	"errors"

	tea "github.com/charmbracelet/bubbletea"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ntealan/genaiti/chain"
)

var _ = Describe("Chat Model", func() {
	var (
		asked []string
		res   *chain.Result
		err   error
		m     model
	)

	BeforeEach(func() {
		asked = nil
		res = &chain.Result{Answer: "Il y a 2 mots.", Query: "MATCH (w:NeoWord) RETURN count(w)", Outcome: chain.OutcomeAnswered}
		err = nil
		ask := func(_ context.Context, q string) (*chain.Result, error) {
			asked = append(asked, q)
			return res, err
		}
		m = newModel(context.Background(), "NTeALan Bot", ask, nil)
	})

	update := func(msg tea.Msg) tea.Cmd {
		next, cmd := m.Update(msg)
		m = next.(model)
		return cmd
	}

	typeQuestion := func(q string) tea.Cmd {
		m.input.SetValue(q)
		return update(tea.KeyMsg{Type: tea.KeyEnter})
	}

	It("sends the question and waits for the answer", func() {
		cmd := typeQuestion("combien de mots ?")
		Expect(cmd).NotTo(BeNil())
		Expect(m.waiting).To(BeTrue())
		Expect(m.blocks).To(Equal([]string{"**Vous** : combien de mots ?"}))
		Expect(m.input.Value()).To(BeEmpty())
		Expect(m.View()).To(ContainSubstring("NTeALan Bot réfléchit"))
	})

	It("ignores enter while waiting", func() {
		typeQuestion("combien de mots ?")
		Expect(typeQuestion("encore ?")).To(BeNil())
		Expect(m.blocks).To(HaveLen(1))
	})

	It("runs the question through ask", func() {
		msg := m.askCmd("combien de mots ?")()
		Expect(asked).To(Equal([]string{"combien de mots ?"}))
		Expect(msg).To(Equal(answerMsg{res: res}))
	})

	It("appends the answer with its query", func() {
		typeQuestion("combien de mots ?")
		update(answerMsg{res: res})
		Expect(m.waiting).To(BeFalse())
		Expect(m.blocks).To(HaveLen(2))
		Expect(m.blocks[1]).To(Equal("**NTeALan Bot** : Il y a 2 mots.\n\n```cypher\nMATCH (w:NeoWord) RETURN count(w)\n```"))
	})

	It("renders direct rows as a table", func() {
		res = &chain.Result{Direct: true, Rows: []map[string]any{{"word": "mbɔ̀"}}}
		update(answerMsg{res: res})
		Expect(m.blocks[0]).To(Equal("**NTeALan Bot** : \n\n| word |\n| --- |\n| mbɔ̀ |\n"))

		update(answerMsg{res: &chain.Result{Direct: true}})
		Expect(m.blocks[1]).To(Equal("**NTeALan Bot** : aucun résultat."))
	})

	It("shows errors in the transcript", func() {
		update(answerMsg{err: errors.New("graph unreachable")})
		Expect(m.blocks).To(Equal([]string{"**NTeALan Bot** : _erreur_ : graph unreachable"}))
	})

	It("clears the transcript", func() {
		typeQuestion("combien de mots ?")
		update(answerMsg{res: res})
		Expect(typeQuestion("/clear")).To(BeNil())
		Expect(m.blocks).To(BeEmpty())
	})

	It("quits on escape", func() {
		cmd := update(tea.KeyMsg{Type: tea.KeyEsc})
		Expect(cmd).NotTo(BeNil())
		Expect(cmd()).To(Equal(tea.Quit()))
	})

	It("fits the window", func() {
		update(tea.WindowSizeMsg{Width: 100, Height: 30})
		Expect(m.width).To(Equal(100))
		Expect(m.view.Height).To(Equal(26))
	})
})
