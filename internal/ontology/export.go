package ontology

import (
	"fmt"
	"strings"

	"quizforge/internal/models"
)

const baseIRI = "http://quizforge.local/ontology"

// ExportTurtle renders the lesson graph as Turtle. Object titles become
// IRI-safe local names; descriptions ride along as rdfs:comment.
func ExportTurtle(objects []models.LearningObject, edges []models.ConceptRelationship) string {
	names := localNames(objects)

	var b strings.Builder
	fmt.Fprintf(&b, "@prefix qf: <%s#> .\n", baseIRI)
	b.WriteString("@prefix rdfs: <http://www.w3.org/2000/01/rdf-schema#> .\n")
	b.WriteString("@prefix owl: <http://www.w3.org/2002/07/owl#> .\n\n")

	for _, obj := range objects {
		fmt.Fprintf(&b, "qf:%s a owl:Class ;\n", names[obj.ID])
		fmt.Fprintf(&b, "    rdfs:label %s", turtleLiteral(obj.Title))
		if desc := strings.TrimSpace(obj.Description); desc != "" {
			fmt.Fprintf(&b, " ;\n    rdfs:comment %s", turtleLiteral(desc))
		}
		b.WriteString(" .\n\n")
	}

	for _, edge := range edges {
		source, ok := names[edge.SourceID]
		if !ok {
			continue
		}
		target, ok := names[edge.TargetID]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "qf:%s qf:%s qf:%s .\n", source, edge.RelationshipType, target)
	}

	return b.String()
}

// ExportOWL renders the lesson graph as OWL/XML with object properties for
// each relationship type.
func ExportOWL(objects []models.LearningObject, edges []models.ConceptRelationship) string {
	names := localNames(objects)

	var b strings.Builder
	b.WriteString(`<?xml version="1.0"?>` + "\n")
	fmt.Fprintf(&b, "<Ontology xmlns=\"http://www.w3.org/2002/07/owl#\"\n          ontologyIRI=\"%s\">\n", baseIRI)

	for _, obj := range objects {
		fmt.Fprintf(&b, "  <Declaration><Class IRI=\"#%s\"/></Declaration>\n", names[obj.ID])
	}

	types := make(map[string]bool)
	for _, edge := range edges {
		if types[edge.RelationshipType] {
			continue
		}
		types[edge.RelationshipType] = true
		fmt.Fprintf(&b, "  <Declaration><ObjectProperty IRI=\"#%s\"/></Declaration>\n", edge.RelationshipType)
	}

	for _, obj := range objects {
		fmt.Fprintf(&b, "  <AnnotationAssertion>\n")
		fmt.Fprintf(&b, "    <AnnotationProperty abbreviatedIRI=\"rdfs:label\"/>\n")
		fmt.Fprintf(&b, "    <IRI>#%s</IRI>\n", names[obj.ID])
		fmt.Fprintf(&b, "    <Literal>%s</Literal>\n", xmlEscape(obj.Title))
		fmt.Fprintf(&b, "  </AnnotationAssertion>\n")
	}

	for _, edge := range edges {
		source, ok := names[edge.SourceID]
		if !ok {
			continue
		}
		target, ok := names[edge.TargetID]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "  <ObjectPropertyAssertion>\n")
		fmt.Fprintf(&b, "    <ObjectProperty IRI=\"#%s\"/>\n", edge.RelationshipType)
		fmt.Fprintf(&b, "    <NamedIndividual IRI=\"#%s\"/>\n", source)
		fmt.Fprintf(&b, "    <NamedIndividual IRI=\"#%s\"/>\n", target)
		fmt.Fprintf(&b, "  </ObjectPropertyAssertion>\n")
	}

	b.WriteString("</Ontology>\n")
	return b.String()
}

// localNames generates unique IRI-safe local names keyed by object id.
func localNames(objects []models.LearningObject) map[uint]string {
	names := make(map[uint]string, len(objects))
	used := make(map[string]bool, len(objects))
	for _, obj := range objects {
		name := localName(obj.Title)
		if name == "" || used[name] {
			name = fmt.Sprintf("%s_%d", strings.TrimSuffix(name+"_concept", "_"), obj.ID)
		}
		used[name] = true
		names[obj.ID] = name
	}
	return names
}

func localName(title string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		case r == ' ', r == '-':
			b.WriteRune('_')
		}
	}
	return strings.Trim(b.String(), "_")
}

func turtleLiteral(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	s = strings.ReplaceAll(s, "\n", `\n`)
	return `"` + s + `"`
}

func xmlEscape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
	return r.Replace(s)
}
